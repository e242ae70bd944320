// Package poll provides the reference-counted polling engine that drives
// periodic refresh of externally sourced state.
//
// An Engine wraps a state.Container and an injected fetch collaborator. Each
// interested caller obtains a Token from Start; polling is active while at
// least one token is outstanding. The 0→1 transition performs an immediate
// refresh and arms the interval timer; the 1→0 transition disarms the timer
// and resets the container to its default snapshot, so a later caller never
// observes stale data from a previous session.
//
// Refreshes are serialized by a non-blocking lock: a timer tick that fires
// while a fetch is still in flight is dropped, never queued, so outstanding
// work is bounded to one fetch per engine. A fetch failure leaves the
// previous snapshot untouched and the timer running; the error goes to the
// engine's error handler. A refresh that began while the engine was active
// still applies its result even if the last caller stops before the fetch
// resolves — only future scheduling is cancelled, never an in-flight fetch.
package poll
