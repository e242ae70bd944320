// Package bus provides the action/event message bus that statekit modules
// communicate through. It is the substrate's "nervous system": modules never
// hold references to each other, they register named actions, publish named
// events, and receive restricted facades that enforce least-privilege access.
//
// # Names
//
// Every action and event is addressed by a qualified name of the form
// "<Namespace>:<verb>", for example:
//
//	CurrencyRates:getState     - action returning the module's snapshot
//	CurrencyRates:stateChange  - event carrying (snapshot, patch)
//
// Names are case-sensitive and unique per bus instance. They are typed
// (ActionName, EventName, Namespace) and validated at registration time so a
// malformed name fails at the wiring site rather than at first dispatch.
//
// # Delivery
//
// Delivery is in-process and synchronous: Publish invokes every subscriber on
// the channel, in subscription order, before returning. The subscriber list
// is snapshotted at publish time, so unsubscribing mid-publish never affects
// an in-progress delivery. A listener that returns an error or panics is
// isolated: the failure is routed to the bus error handler and the remaining
// listeners still run.
//
// # Restriction
//
// Restrict returns a Messenger scoped to one namespace. The facade can only
// register names inside its own namespace, and can only call actions and
// subscribe to events that appear on its allow-lists (which may contain '*'
// wildcards). Everything else fails with a PermissionError, even when the
// name exists on the underlying bus. This is the sole mechanism for
// cross-module composition.
//
// # Usage
//
//	b := bus.New()
//	m := b.Restrict("CurrencyRates", nil, nil)
//	m.RegisterAction("CurrencyRates:getState", handler)
//
// A bus is always constructed explicitly and passed to modules at
// construction time. There is no package-level instance.
package bus
