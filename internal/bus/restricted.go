package bus

import (
	"context"

	"github.com/tidwall/match"
)

// Messenger is a capability-scoped facade over a Bus, issued per module with
// Restrict. Registration is confined to the facade's own namespace; calls and
// subscriptions outside the declared allow-lists fail with a PermissionError
// even when the name exists on the underlying bus.
type Messenger struct {
	bus *Bus
	ns  Namespace

	allowedActions []ActionName
	allowedEvents  []EventName
}

// Restrict returns a messenger scoped to ns. allowedActions and allowedEvents
// name the foreign surface the module may touch; entries may contain '*'
// wildcards (for example "TokenList:*"). Names inside ns itself are always
// permitted.
func (b *Bus) Restrict(ns Namespace, allowedActions []ActionName, allowedEvents []EventName) *Messenger {
	return &Messenger{
		bus:            b,
		ns:             ns,
		allowedActions: allowedActions,
		allowedEvents:  allowedEvents,
	}
}

// Namespace returns the namespace the messenger is restricted to.
func (m *Messenger) Namespace() Namespace {
	return m.ns
}

// RegisterAction registers an action handler. Only names inside the
// messenger's own namespace may be registered.
func (m *Messenger) RegisterAction(name ActionName, fn ActionFunc) error {
	if !m.owns(string(name)) {
		return &PermissionError{Namespace: m.ns, Op: "register", Name: string(name)}
	}
	return m.bus.RegisterAction(name, fn)
}

// UnregisterAction removes an action handler inside the messenger's own
// namespace. Foreign names are rejected rather than silently ignored.
func (m *Messenger) UnregisterAction(name ActionName) error {
	if !m.owns(string(name)) {
		return &PermissionError{Namespace: m.ns, Op: "unregister", Name: string(name)}
	}
	m.bus.UnregisterAction(name)
	return nil
}

// Call invokes an action. The name must be inside the messenger's namespace
// or on the action allow-list.
func (m *Messenger) Call(ctx context.Context, name ActionName, args ...any) (any, error) {
	if !m.owns(string(name)) && !allowed(m.allowedActions, name) {
		return nil, &PermissionError{Namespace: m.ns, Op: "call", Name: string(name)}
	}
	return m.bus.Call(ctx, name, args...)
}

// Publish publishes on a channel inside the messenger's own namespace. A
// module can never speak on another module's channels.
func (m *Messenger) Publish(ctx context.Context, channel EventName, args ...any) error {
	if !m.owns(string(channel)) {
		return &PermissionError{Namespace: m.ns, Op: "publish", Name: string(channel)}
	}
	return m.bus.Publish(ctx, channel, args...)
}

// Subscribe registers a listener. The channel must be inside the messenger's
// namespace or on the event allow-list.
func (m *Messenger) Subscribe(channel EventName, l Listener, opts ...SubscriptionOption) (*Subscription, error) {
	if !m.owns(string(channel)) && !allowed(m.allowedEvents, channel) {
		return nil, &PermissionError{Namespace: m.ns, Op: "subscribe", Name: string(channel)}
	}
	return m.bus.Subscribe(channel, l, opts...)
}

// Unsubscribe removes a subscription previously created through any facade of
// the same bus.
func (m *Messenger) Unsubscribe(sub *Subscription) error {
	return m.bus.Unsubscribe(sub)
}

// ClearChannel removes every subscription from a channel inside the
// messenger's own namespace.
func (m *Messenger) ClearChannel(channel EventName) (int, error) {
	if !m.owns(string(channel)) {
		return 0, &PermissionError{Namespace: m.ns, Op: "clear", Name: string(channel)}
	}
	return m.bus.ClearChannel(channel), nil
}

// owns reports whether the qualified name lives inside the messenger's own
// namespace.
func (m *Messenger) owns(name string) bool {
	ns, _, err := splitQualified(name)
	return err == nil && ns == m.ns
}

// allowed reports whether name matches any allow-list pattern.
func allowed[N ~string](patterns []N, name N) bool {
	for _, p := range patterns {
		if match.Match(string(name), string(p)) {
			return true
		}
	}
	return false
}
