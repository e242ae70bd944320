// Package gas is the gas-estimate module. Its state carries no timestamp, so
// a refresh that fetches the same estimate produces an empty diff and no
// stateChange event.
package gas

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/statekit/statekit/internal/bus"
	"github.com/statekit/statekit/internal/poll"
	"github.com/statekit/statekit/internal/state"
)

// Name is the module's bus namespace.
const Name bus.Namespace = "GasFees"

// State holds the current gas price estimates in gwei.
type State struct {
	SafeLow float64 `json:"safeLow"`
	Average float64 `json:"average"`
	Fast    float64 `json:"fast"`
}

// Estimate is one fetched payload.
type Estimate struct {
	SafeLow float64
	Average float64
	Fast    float64
}

// Module owns the gas container and its polling engine.
type Module struct {
	container *state.Container[State]
	engine    *poll.Engine[State, Estimate]
}

// New creates the module on m with the given refresh interval and fetcher.
func New(m *bus.Messenger, interval time.Duration, fetch poll.Fetcher[Estimate], opts ...poll.Option) (*Module, error) {
	c, err := state.New(Name, State{}, m)
	if err != nil {
		return nil, err
	}

	eng := poll.New(c, interval, fetch, func(draft *State, e Estimate) {
		draft.SafeLow = e.SafeLow
		draft.Average = e.Average
		draft.Fast = e.Fast
	}, opts...)
	return &Module{container: c, engine: eng}, nil
}

// Container returns the module's state container.
func (m *Module) Container() *state.Container[State] { return m.container }

// Engine returns the module's polling engine.
func (m *Module) Engine() *poll.Engine[State, Estimate] { return m.engine }

// State returns a copy of the current state.
func (m *Module) State() State { return m.container.State() }

// Destroy stops the container.
func (m *Module) Destroy() error { return m.container.Destroy() }

// HTTPFetcher returns a fetcher that GETs url and picks the estimate fields
// out of the response document. Providers disagree on envelope shape, so the
// fields are addressed by path rather than decoded into a struct.
func HTTPFetcher(client *http.Client, url string) poll.Fetcher[Estimate] {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (Estimate, error) {
		var e Estimate
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return e, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return e, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return e, fmt.Errorf("fetch gas estimate: unexpected status %s", resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return e, err
		}
		if !gjson.ValidBytes(body) {
			return e, fmt.Errorf("fetch gas estimate: invalid JSON body")
		}
		doc := gjson.ParseBytes(body)
		e.SafeLow = doc.Get("safeLow").Float()
		e.Average = doc.Get("average").Float()
		e.Fast = doc.Get("fast").Float()
		return e, nil
	}
}
