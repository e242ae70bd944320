package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

// ActionFunc is a registered action handler. The bus is a pure pass-through:
// the result and error are returned to the caller unchanged, with no retry,
// timeout, or caching.
type ActionFunc func(ctx context.Context, args ...any) (any, error)

// ErrorHandler receives isolated listener failures (*ListenerError,
// *PanicError). It is the bus's observability side-channel; publish never
// returns listener failures to the publisher.
type ErrorHandler func(err error)

// Bus is the central registry mapping qualified names to action handlers and
// event subscriber lists. It is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	actions  map[ActionName]ActionFunc
	channels map[EventName][]*Subscription

	errHandler ErrorHandler

	// Stats
	calls          atomic.Uint64
	published      atomic.Uint64
	delivered      atomic.Uint64
	suppressed     atomic.Uint64
	listenerErrors atomic.Uint64
	listenerPanics atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithErrorHandler sets the handler that receives isolated listener failures.
// By default failures are counted in Stats and otherwise dropped.
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bus) {
		b.errHandler = h
	}
}

// New creates a new, empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		actions:  make(map[ActionName]ActionFunc),
		channels: make(map[EventName][]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterAction registers a handler under a qualified action name. Each
// name has exactly one owner: registering a name that already has a handler
// fails with ErrDuplicateAction.
func (b *Bus) RegisterAction(name ActionName, fn ActionFunc) error {
	if err := name.Valid(); err != nil {
		return err
	}
	if fn == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.actions[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, name)
	}
	b.actions[name] = fn
	return nil
}

// UnregisterAction removes the handler registered under name. Unregistering
// an absent name is a no-op, so teardown paths can run unconditionally.
func (b *Bus) UnregisterAction(name ActionName) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.actions, name)
}

// Call invokes the action registered under name and returns its result and
// error unchanged. Calling an unregistered name fails with ErrActionNotFound.
func (b *Bus) Call(ctx context.Context, name ActionName, args ...any) (any, error) {
	b.mu.RLock()
	fn, exists := b.actions[name]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrActionNotFound, name)
	}

	b.calls.Add(1)
	return fn(ctx, args...)
}

// Subscribe registers a listener on a channel and returns the subscription
// handle used for Unsubscribe. Subscribing the identical listener to the same
// channel twice fails with ErrDuplicateListener.
func (b *Bus) Subscribe(channel EventName, l Listener, opts ...SubscriptionOption) (*Subscription, error) {
	if err := channel.Valid(); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNilListener
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.channels[channel] {
		if sameListener(existing.listener, l) {
			return nil, fmt.Errorf("%w: channel %q", ErrDuplicateListener, channel)
		}
	}

	sub := newSubscription(channel, l, opts...)
	b.channels[channel] = append(b.channels[channel], sub)
	return sub, nil
}

// Unsubscribe removes a subscription from its channel. A publish already in
// progress still delivers to the subscriber list snapshotted at publish time.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[sub.channel]
	for i, s := range subs {
		if s.id == sub.id {
			b.channels[sub.channel] = slices.Delete(subs, i, i+1)
			if len(b.channels[sub.channel]) == 0 {
				delete(b.channels, sub.channel)
			}
			s.active.Store(false)
			return nil
		}
	}
	return fmt.Errorf("%w: %s on %q", ErrSubscriptionNotFound, sub.id, sub.channel)
}

// ClearChannel removes every subscription from a channel and returns the
// number removed. Containers use it when they are destroyed.
func (b *Bus) ClearChannel(channel EventName) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	for _, s := range subs {
		s.active.Store(false)
	}
	delete(b.channels, channel)
	return len(subs)
}

// Publish invokes every subscriber currently registered on the channel, in
// subscription order, synchronously from the caller's point of view. The
// subscriber list is copied at call time, so concurrent subscribe and
// unsubscribe never affect this delivery. Listener errors and panics are
// isolated per listener and routed to the error handler.
func (b *Bus) Publish(ctx context.Context, channel EventName, args ...any) error {
	if err := channel.Valid(); err != nil {
		return err
	}

	b.mu.RLock()
	subs := slices.Clone(b.channels[channel])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	b.published.Add(1)

	// The first payload argument is encoded at most once per publish, and
	// only when some subscriber carries a selector.
	var (
		doc        []byte
		docErr     error
		docEncoded bool
	)

	for _, sub := range subs {
		if sub.selector != "" {
			if !docEncoded {
				docEncoded = true
				if len(args) > 0 {
					doc, docErr = json.Marshal(args[0])
				}
			}
			// An unencodable payload disables selection rather than delivery.
			if docErr == nil {
				selected := gjson.GetBytes(doc, sub.selector).Raw
				if !sub.shouldDeliver(selected) {
					b.suppressed.Add(1)
					continue
				}
			}
		}
		b.deliver(ctx, sub, args)
	}
	return nil
}

// deliver runs one listener, isolating errors and panics.
func (b *Bus) deliver(ctx context.Context, sub *Subscription, args []any) {
	defer func() {
		if r := recover(); r != nil {
			b.listenerPanics.Add(1)
			b.report(&PanicError{Channel: sub.channel, SubscriptionID: sub.id, Value: r})
		}
	}()

	if err := sub.listener.Notify(ctx, args...); err != nil {
		b.listenerErrors.Add(1)
		b.report(&ListenerError{Channel: sub.channel, SubscriptionID: sub.id, Err: err})
		return
	}
	b.delivered.Add(1)
}

func (b *Bus) report(err error) {
	if b.errHandler != nil {
		b.errHandler(err)
	}
}

// Stats contains bus delivery statistics.
type Stats struct {
	// Calls is the number of action invocations routed through the bus.
	Calls uint64

	// Published is the number of Publish calls that had subscribers.
	Published uint64

	// Delivered is the number of successful listener deliveries.
	Delivered uint64

	// Suppressed is the number of deliveries skipped by selectors.
	Suppressed uint64

	// ListenerErrors is the number of listeners that returned errors.
	ListenerErrors uint64

	// ListenerPanics is the number of listeners that panicked.
	ListenerPanics uint64

	// Subscriptions is the current number of registered subscriptions.
	Subscriptions int

	// Actions is the current number of registered actions.
	Actions int
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs := 0
	for _, s := range b.channels {
		subs += len(s)
	}
	actions := len(b.actions)
	b.mu.RUnlock()

	return Stats{
		Calls:          b.calls.Load(),
		Published:      b.published.Load(),
		Delivered:      b.delivered.Load(),
		Suppressed:     b.suppressed.Load(),
		ListenerErrors: b.listenerErrors.Load(),
		ListenerPanics: b.listenerPanics.Load(),
		Subscriptions:  subs,
		Actions:        actions,
	}
}
