// Package state provides the state container that statekit modules build on.
//
// A Container owns exactly one immutable snapshot at any instant. Update
// hands the mutator a deep working copy, computes the structural difference
// between the prior snapshot and the result, and — only when the difference
// is non-empty — atomically replaces the snapshot and publishes
// "<name>:stateChange" with (snapshot, patch) through the container's
// restricted messenger. A mutation that changes nothing is silent.
//
// Snapshots are addressed through their JSON encoding: patch paths use gjson
// dot syntax ("rates.USD", "accounts.0.address"), the same address space the
// bus selector option uses. State types must therefore round-trip through
// encoding/json.
//
// Containers also accept direct observers (Observe, ObserveRaw) for the
// legacy composition layer, which wires child containers together without
// going through the bus.
package state
