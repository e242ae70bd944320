package bus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Listener receives event deliveries. The args are the payload the publisher
// passed to Publish; listeners must treat them as read-only.
type Listener interface {
	Notify(ctx context.Context, args ...any) error
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(ctx context.Context, args ...any) error

// Notify implements the Listener interface.
func (f ListenerFunc) Notify(ctx context.Context, args ...any) error {
	return f(ctx, args...)
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	selector string
}

// WithSelector installs a gjson path selector. The path is evaluated against
// the JSON encoding of the first publish argument; the listener fires only
// when the selected sub-value differs from the previously observed one.
func WithSelector(path string) SubscriptionOption {
	return func(c *subscriptionConfig) {
		c.selector = path
	}
}

// Subscription represents one listener registered on one channel. It is
// returned by Subscribe and identifies the registration for Unsubscribe.
type Subscription struct {
	id       string
	channel  EventName
	listener Listener
	selector string

	active atomic.Bool

	// Selector memory. Guarded by mu so interleaved publishes on different
	// goroutines observe a consistent last-seen value.
	mu       sync.Mutex
	seen     bool
	lastSeen string
}

func newSubscription(channel EventName, l Listener, opts ...SubscriptionOption) *Subscription {
	var config subscriptionConfig
	for _, opt := range opts {
		opt(&config)
	}

	s := &Subscription{
		id:       uuid.NewString(),
		channel:  channel,
		listener: l,
		selector: config.selector,
	}
	s.active.Store(true)
	return s
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Channel returns the channel the subscription is registered on.
func (s *Subscription) Channel() EventName {
	return s.channel
}

// IsActive reports whether the subscription is still registered.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// shouldDeliver applies the selector, if any, against the selected raw value
// for this publish. It records the value as seen when delivery proceeds.
func (s *Subscription) shouldDeliver(selected string) bool {
	if s.selector == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen && s.lastSeen == selected {
		return false
	}
	s.seen = true
	s.lastSeen = selected
	return true
}

// sameListener reports whether a and b are the identical listener value.
// Listeners with non-comparable dynamic types (function adapters, listeners
// holding maps or slices) are never considered identical.
func sameListener(a, b Listener) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() {
		return false
	}
	return va.Equal(vb)
}
