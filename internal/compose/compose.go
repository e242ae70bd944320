// Package compose provides the legacy composition layer that aggregates the
// state of multiple containers into one document keyed by container name.
//
// Unlike bus-based consumers, the composite subscribes to its children
// directly through their observer hooks. It predates the restricted messenger
// and is kept for modules that still wire containers together by reference.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/sjson"

	"github.com/statekit/statekit/internal/bus"
	"github.com/statekit/statekit/internal/state"
)

// Child is the type-erased view of a state container the composite needs:
// a name, a JSON snapshot, and a direct change hook. *state.Container[S]
// satisfies it for any S.
type Child interface {
	Name() bus.Namespace
	SnapshotJSON() []byte
	ObserveRaw(fn func(raw []byte, patch state.Patch)) (cancel func())
}

// Composite aggregates child container snapshots into one JSON document keyed
// by child name. The aggregate lives in its own container, so it publishes
// "<name>:stateChange" and answers "<name>:getState" like any other module.
//
// If two children report the same name, the later one overwrites the earlier
// one's slot with no error. That behavior is inherited and deliberately left
// as is; see DESIGN.md.
type Composite struct {
	container *state.Container[json.RawMessage]

	mu      sync.Mutex
	cancels []func()
}

// New creates a composite named name and wires the given children.
func New(ctx context.Context, name bus.Namespace, m *bus.Messenger, children ...Child) (*Composite, error) {
	c, err := state.New(name, json.RawMessage("{}"), m)
	if err != nil {
		return nil, err
	}

	comp := &Composite{container: c}
	if err := comp.SetChildren(ctx, children); err != nil {
		return nil, err
	}
	return comp, nil
}

// Container returns the container holding the aggregate document.
func (c *Composite) Container() *state.Container[json.RawMessage] {
	return c.container
}

// State returns a copy of the aggregate document.
func (c *Composite) State() json.RawMessage {
	return c.container.State()
}

// SetChildren replaces the child list atomically: the previous children's
// subscriptions are torn down before the new ones are wired, so a child kept
// across the call never delivers twice and a removed child never leaks a
// subscription.
func (c *Composite) SetChildren(ctx context.Context, children []Child) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil

	_, err := c.container.Update(ctx, func(agg *json.RawMessage) error {
		doc := json.RawMessage("{}")
		for _, child := range children {
			out, err := sjson.SetRawBytes(doc, childKey(child), child.SnapshotJSON())
			if err != nil {
				return fmt.Errorf("aggregate %q: %w", child.Name(), err)
			}
			doc = out
		}
		*agg = doc
		return nil
	})
	if err != nil {
		return err
	}

	for _, child := range children {
		key := childKey(child)
		cancel := child.ObserveRaw(func(raw []byte, _ state.Patch) {
			// Child updates are serialized by the child's own container, and
			// the aggregate container serializes its updates, so slot writes
			// land in delivery order.
			_, err := c.container.Update(ctx, func(agg *json.RawMessage) error {
				out, err := sjson.SetRawBytes(*agg, key, raw)
				if err != nil {
					return err
				}
				*agg = out
				return nil
			})
			_ = err // aggregate destroyed: late child deliveries are moot
		})
		c.cancels = append(c.cancels, cancel)
	}
	return nil
}

// Destroy tears down the child subscriptions and destroys the aggregate
// container.
func (c *Composite) Destroy() error {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.mu.Unlock()

	return c.container.Destroy()
}

func childKey(child Child) string {
	return state.EscapeKey(string(child.Name()))
}
