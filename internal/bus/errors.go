package bus

import (
	"errors"
	"fmt"
)

// Sentinel errors for the message bus.
var (
	// ErrMalformedName is returned when a name is not of the form
	// "<Namespace>:<verb>".
	ErrMalformedName = errors.New("malformed name")

	// ErrDuplicateAction is returned when an action name is registered twice.
	ErrDuplicateAction = errors.New("action already registered")

	// ErrActionNotFound is returned when calling an unregistered action.
	ErrActionNotFound = errors.New("action not found")

	// ErrNilHandler is returned when a nil action handler is registered.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilListener is returned when a nil listener is subscribed.
	ErrNilListener = errors.New("listener cannot be nil")

	// ErrDuplicateListener is returned when the identical listener is
	// subscribed to the same channel twice.
	ErrDuplicateListener = errors.New("listener already subscribed")

	// ErrSubscriptionNotFound is returned when unsubscribing a subscription
	// that is not registered.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPermission is returned when a restricted messenger touches a name
	// outside its allow-list.
	ErrPermission = errors.New("permission denied")

	// ErrListenerPanic is the sentinel matched by PanicError.
	ErrListenerPanic = errors.New("listener panicked")
)

// PermissionError reports a restricted messenger operation on a name outside
// its declared allow-list. It matches ErrPermission with errors.Is.
type PermissionError struct {
	// Namespace is the namespace the messenger was restricted to.
	Namespace Namespace

	// Op is the operation that was rejected (call, publish, subscribe, ...).
	Op string

	// Name is the qualified name that was rejected.
	Name string
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("messenger %q: %s %q not allowed", e.Namespace, e.Op, e.Name)
}

// Is allows errors.Is to match PermissionError with ErrPermission.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}

// ListenerError wraps an error returned by one event listener during publish.
// It is reported to the bus error handler, never to the publisher.
type ListenerError struct {
	// Channel is the channel the listener was subscribed to.
	Channel EventName

	// SubscriptionID identifies the failing subscription.
	SubscriptionID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener error on %q (subscription %s): %v", e.Channel, e.SubscriptionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic raised by one event listener during publish.
// It matches ErrListenerPanic with errors.Is.
type PanicError struct {
	// Channel is the channel the listener was subscribed to.
	Channel EventName

	// SubscriptionID identifies the failing subscription.
	SubscriptionID string

	// Value is the value passed to panic().
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panic on %q (subscription %s): %v", e.Channel, e.SubscriptionID, e.Value)
}

// Is allows errors.Is to match PanicError with ErrListenerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrListenerPanic
}
