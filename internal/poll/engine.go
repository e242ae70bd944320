package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/statekit/statekit/internal/state"
)

// Fetcher retrieves one payload from the external data source. The engine
// treats it as opaque and swappable; timeouts and retries belong to the
// fetcher, not the engine.
type Fetcher[P any] func(ctx context.Context) (P, error)

// Applier folds a fetched payload into the state draft. It runs inside the
// container's Update, so the usual diff-and-publish rules apply.
type Applier[S, P any] func(draft *S, payload P)

// Token identifies one caller's interest in active polling. It is opaque and
// single-use: Stop consumes it.
type Token string

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	errHandler func(error)
}

// WithLogger sets the engine's logger. By default the engine is silent.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithErrorHandler sets the handler that receives transient refresh failures.
// Failures never propagate to Start or Stop callers and never break the
// timer loop.
func WithErrorHandler(h func(error)) Option {
	return func(o *options) {
		o.errHandler = h
	}
}

// Engine drives reference-counted periodic refresh of a state.Container.
// S is the container's state type, P the fetch payload type.
type Engine[S, P any] struct {
	container *state.Container[S]
	fetch     Fetcher[P]
	apply     Applier[S, P]

	// defaultRaw is the container's snapshot at construction time, restored
	// when the last caller stops.
	defaultRaw []byte

	logger     *slog.Logger
	errHandler func(error)

	// mu guards tokens, interval, and the timer loop handles.
	mu       sync.Mutex
	interval time.Duration
	tokens   map[Token]struct{}
	ticker   *time.Ticker
	stopCh   chan struct{}

	// fetchMu is the per-engine exclusivity lock: at most one refresh is in
	// progress at a time. Ticks that find it held are dropped.
	fetchMu sync.Mutex

	// Stats
	fetches  atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

// New creates an engine around c that refreshes every interval using fetch
// and folds results in with apply. The container's state at this moment
// becomes the default snapshot restored when polling stops.
func New[S, P any](c *state.Container[S], interval time.Duration, fetch Fetcher[P], apply Applier[S, P], opts ...Option) *Engine[S, P] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine[S, P]{
		container:  c,
		fetch:      fetch,
		apply:      apply,
		defaultRaw: c.SnapshotJSON(),
		logger:     o.logger.With("component", "poll", "container", string(c.Name())),
		errHandler: o.errHandler,
		interval:   interval,
		tokens:     make(map[Token]struct{}),
	}
}

// Container returns the engine's underlying state container.
func (e *Engine[S, P]) Container() *state.Container[S] {
	return e.container
}

// RefCount returns the number of outstanding tokens.
func (e *Engine[S, P]) RefCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tokens)
}

// Active reports whether polling is currently armed.
func (e *Engine[S, P]) Active() bool {
	return e.RefCount() > 0
}

// Start registers a caller's interest and returns the token that releases it.
// The 0→1 transition performs an immediate refresh synchronously, then arms
// the interval timer.
func (e *Engine[S, P]) Start(ctx context.Context) Token {
	tok := Token(uuid.NewString())

	e.mu.Lock()
	e.tokens[tok] = struct{}{}
	first := len(e.tokens) == 1
	e.mu.Unlock()

	if !first {
		return tok
	}

	e.logger.Debug("polling started", "interval", e.interval)
	e.refresh(ctx)

	e.mu.Lock()
	// The caller may have stopped during the immediate refresh; arming the
	// timer then would leak a goroutine polling for nobody.
	if len(e.tokens) > 0 && e.stopCh == nil {
		e.ticker = time.NewTicker(e.interval)
		e.stopCh = make(chan struct{})
		go e.loop(e.ticker, e.stopCh)
	}
	e.mu.Unlock()

	return tok
}

// Stop releases the interest identified by tok. The 1→0 transition disarms
// the timer and resets the container to its default snapshot. Stopping an
// engine with no outstanding interest is ErrRefCountUnderflow; an unissued or
// reused token is ErrUnknownToken. Both are programmer errors and are never
// swallowed.
func (e *Engine[S, P]) Stop(ctx context.Context, tok Token) error {
	e.mu.Lock()
	if len(e.tokens) == 0 {
		e.mu.Unlock()
		return ErrRefCountUnderflow
	}
	if _, ok := e.tokens[tok]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	delete(e.tokens, tok)
	last := len(e.tokens) == 0

	var ticker *time.Ticker
	var stopCh chan struct{}
	if last {
		ticker, stopCh = e.ticker, e.stopCh
		e.ticker, e.stopCh = nil, nil
	}
	e.mu.Unlock()

	if !last {
		return nil
	}

	if stopCh != nil {
		close(stopCh)
		ticker.Stop()
	}
	e.logger.Debug("polling stopped")

	// Reset so a later caller never observes stale data from this session.
	// An in-flight refresh is not cancelled; if one completes after this
	// point its result still applies.
	_, err := e.container.Update(ctx, func(d *S) error {
		var def S
		if err := json.Unmarshal(e.defaultRaw, &def); err != nil {
			return err
		}
		*d = def
		return nil
	})
	return err
}

// SetInterval re-arms the timer at the new interval without touching the
// reference count. It applies to the next tick.
func (e *Engine[S, P]) SetInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d == e.interval {
		return
	}
	e.interval = d
	if e.ticker != nil {
		e.ticker.Reset(d)
	}
	e.logger.Debug("interval reconfigured", "interval", d)
}

// Interval returns the configured refresh interval.
func (e *Engine[S, P]) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// Stats reports refresh counters: attempted fetches, failed fetches, and
// ticks dropped because a refresh was already in flight.
func (e *Engine[S, P]) Stats() (fetches, failures, dropped uint64) {
	return e.fetches.Load(), e.failures.Load(), e.dropped.Load()
}

func (e *Engine[S, P]) loop(ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// Each tick is its own refresh attempt so a slow fetch cannot
			// stall the loop; the attempt is dropped if one is in flight.
			go e.refresh(context.Background())
		}
	}
}

// refresh performs one fetch-and-apply cycle. Transient failures are
// contained here: the previous snapshot stays untouched and the timer keeps
// running.
func (e *Engine[S, P]) refresh(ctx context.Context) {
	if !e.fetchMu.TryLock() {
		e.dropped.Add(1)
		e.logger.Debug("tick dropped, refresh in flight")
		return
	}
	defer e.fetchMu.Unlock()

	e.fetches.Add(1)

	payload, err := e.fetch(ctx)
	if err != nil {
		e.failures.Add(1)
		e.logger.Warn("refresh failed", "error", err)
		e.report(fmt.Errorf("refresh %s: %w", e.container.Name(), err))
		return
	}

	if _, err := e.container.Update(ctx, func(d *S) error {
		e.apply(d, payload)
		return nil
	}); err != nil {
		e.failures.Add(1)
		e.logger.Warn("refresh apply failed", "error", err)
		e.report(fmt.Errorf("refresh %s: %w", e.container.Name(), err))
	}
}

func (e *Engine[S, P]) report(err error) {
	if e.errHandler != nil {
		e.errHandler(err)
	}
}
