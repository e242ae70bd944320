package poll

import "errors"

// Sentinel errors for the polling engine. Both indicate wiring bugs in the
// caller, never transient conditions.
var (
	// ErrRefCountUnderflow is returned by Stop when no caller holds an
	// interest in the engine.
	ErrRefCountUnderflow = errors.New("refcount underflow: engine is not started")

	// ErrUnknownToken is returned by Stop when the token was not issued by
	// this engine or was already stopped.
	ErrUnknownToken = errors.New("unknown poll token")
)
