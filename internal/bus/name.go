package bus

import (
	"fmt"
	"strings"
)

// Namespace identifies one module on the bus. It prefixes every action and
// event the module owns. A namespace must be non-empty and must not contain
// the ':' separator.
type Namespace string

// Valid reports whether the namespace is well formed.
func (n Namespace) Valid() error {
	if n == "" {
		return fmt.Errorf("%w: empty namespace", ErrMalformedName)
	}
	if strings.ContainsRune(string(n), ':') {
		return fmt.Errorf("%w: namespace %q contains ':'", ErrMalformedName, string(n))
	}
	return nil
}

// Action returns the qualified action name "<n>:<verb>".
func (n Namespace) Action(verb string) ActionName {
	return ActionName(string(n) + ":" + verb)
}

// Event returns the qualified event name "<n>:<verb>".
func (n Namespace) Event(verb string) EventName {
	return EventName(string(n) + ":" + verb)
}

// ActionName is a fully qualified action name of the form
// "<Namespace>:<verb>".
type ActionName string

// Split returns the namespace and verb halves of the name, or
// ErrMalformedName if the name is not of the form "<Namespace>:<verb>".
func (a ActionName) Split() (Namespace, string, error) {
	return splitQualified(string(a))
}

// Valid reports whether the name is well formed.
func (a ActionName) Valid() error {
	_, _, err := a.Split()
	return err
}

// EventName is a fully qualified event channel name of the form
// "<Namespace>:<verb>".
type EventName string

// Split returns the namespace and verb halves of the name, or
// ErrMalformedName if the name is not of the form "<Namespace>:<verb>".
func (e EventName) Split() (Namespace, string, error) {
	return splitQualified(string(e))
}

// Valid reports whether the name is well formed.
func (e EventName) Valid() error {
	_, _, err := e.Split()
	return err
}

// splitQualified splits "<Namespace>:<verb>" into its halves. Exactly one
// separator is required and both halves must be non-empty.
func splitQualified(s string) (Namespace, string, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedName, s)
	}
	if strings.ContainsRune(s[i+1:], ':') {
		return "", "", fmt.Errorf("%w: %q has more than one ':'", ErrMalformedName, s)
	}
	return Namespace(s[:i]), s[i+1:], nil
}
