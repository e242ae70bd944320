package state

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tidwall/pretty"

	"github.com/statekit/statekit/internal/bus"
)

// VerbGetState and VerbStateChange are the standard surface every container
// exposes on the bus.
const (
	VerbGetState    = "getState"
	VerbStateChange = "stateChange"
)

// Container owns one immutable state snapshot and publishes diff-based change
// notifications through its restricted messenger. It registers the
// "<name>:getState" action and owns the "<name>:stateChange" channel.
//
// The snapshot of record is the canonical JSON encoding: it drives diffing,
// selector evaluation, and reads, and is never mutated once stored.
//
// Updates are serialized: a later Update always observes the result of an
// earlier one. Reads never block behind updates.
type Container[S any] struct {
	name      bus.Namespace
	messenger *bus.Messenger

	getState    bus.ActionName
	stateChange bus.EventName

	// updateMu serializes Update (and the publish it triggers) in call order.
	updateMu sync.Mutex
	cur      atomic.Pointer[[]byte]

	destroyed atomic.Bool

	// Direct observers, used by the composition layer instead of the bus.
	// Notified in registration order.
	obsMu   sync.Mutex
	obsNext uint64
	obs     []observer[S]
}

type observer[S any] struct {
	id uint64
	fn func(S, Patch)
}

// New creates a container named name holding initial, wired to a messenger
// restricted to the same namespace. The initial state must be encodable.
func New[S any](name bus.Namespace, initial S, m *bus.Messenger) (*Container[S], error) {
	if err := name.Valid(); err != nil {
		return nil, err
	}
	raw, err := encode(initial)
	if err != nil {
		return nil, err
	}

	c := &Container[S]{
		name:        name,
		messenger:   m,
		getState:    name.Action(VerbGetState),
		stateChange: name.Event(VerbStateChange),
	}
	c.cur.Store(&raw)

	err = m.RegisterAction(c.getState, func(ctx context.Context, args ...any) (any, error) {
		if c.destroyed.Load() {
			return nil, ErrDestroyed
		}
		return c.State(), nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the container's namespace.
func (c *Container[S]) Name() bus.Namespace {
	return c.name
}

// State returns a deep copy of the current snapshot. The container's internal
// snapshot can never be mutated through the returned value.
func (c *Container[S]) State() S {
	var v S
	// The encoding was produced by encode, so decoding cannot fail.
	_ = json.Unmarshal(*c.cur.Load(), &v)
	return v
}

// SnapshotJSON returns a copy of the current snapshot's canonical JSON
// encoding.
func (c *Container[S]) SnapshotJSON() []byte {
	return slices.Clone(*c.cur.Load())
}

// Dump renders the current snapshot as indented JSON for logs.
func (c *Container[S]) Dump() []byte {
	return pretty.Pretty(*c.cur.Load())
}

// Update hands mutate a deep working copy of the current snapshot. If the
// mutated copy differs structurally from the prior snapshot, the copy
// atomically becomes the new snapshot and "<name>:stateChange" is published
// with (snapshot, patch). If nothing changed, no publish occurs and the
// returned patch is empty. If mutate returns an error the update has no
// effect.
func (c *Container[S]) Update(ctx context.Context, mutate func(draft *S) error) (Patch, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	if c.destroyed.Load() {
		return nil, fmt.Errorf("%w: %q", ErrDestroyed, c.name)
	}

	prev := *c.cur.Load()

	var draft S
	if err := json.Unmarshal(prev, &draft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	if err := mutate(&draft); err != nil {
		return nil, err
	}

	raw, err := encode(draft)
	if err != nil {
		return nil, err
	}

	patch := Diff(prev, raw)
	if len(patch) == 0 {
		return nil, nil
	}

	c.cur.Store(&raw)

	// Listeners receive their own copy so the stored snapshot stays
	// exclusively owned by the container.
	published := c.State()
	c.notifyObservers(published, patch)
	if err := c.messenger.Publish(ctx, c.stateChange, published, patch); err != nil {
		return patch, err
	}
	return patch, nil
}

// Observe registers a direct observer invoked on every effective update with
// (new snapshot, patch), bypassing the bus. It returns a cancel function.
// Used by the legacy composition layer.
func (c *Container[S]) Observe(fn func(S, Patch)) (cancel func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	id := c.obsNext
	c.obsNext++
	c.obs = append(c.obs, observer[S]{id: id, fn: fn})

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		c.obs = slices.DeleteFunc(c.obs, func(o observer[S]) bool { return o.id == id })
	}
}

// ObserveRaw is Observe with the snapshot delivered as canonical JSON. It
// lets heterogeneous containers be aggregated without knowing S.
func (c *Container[S]) ObserveRaw(fn func(raw []byte, patch Patch)) (cancel func()) {
	return c.Observe(func(s S, p Patch) {
		fn(c.SnapshotJSON(), p)
	})
}

func (c *Container[S]) notifyObservers(s S, p Patch) {
	c.obsMu.Lock()
	obs := slices.Clone(c.obs)
	c.obsMu.Unlock()

	for _, o := range obs {
		o.fn(s, p)
	}
}

// Destroy unregisters the getState action and clears the stateChange channel.
// Further Update calls fail with ErrDestroyed. Destroy is idempotent.
func (c *Container[S]) Destroy() error {
	if c.destroyed.Swap(true) {
		return nil
	}

	// Wait for an in-flight update to finish before tearing down.
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	if err := c.messenger.UnregisterAction(c.getState); err != nil {
		return err
	}
	if _, err := c.messenger.ClearChannel(c.stateChange); err != nil {
		return err
	}

	c.obsMu.Lock()
	c.obs = nil
	c.obsMu.Unlock()
	return nil
}

// encode marshals a state value to canonical JSON.
func encode[S any](v S) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return raw, nil
}
