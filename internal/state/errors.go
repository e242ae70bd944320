package state

import "errors"

// Sentinel errors for state containers.
var (
	// ErrDestroyed is returned when a container is used after Destroy.
	ErrDestroyed = errors.New("container destroyed")

	// ErrUnencodable is returned when a state value does not round-trip
	// through encoding/json.
	ErrUnencodable = errors.New("state not encodable as JSON")
)
