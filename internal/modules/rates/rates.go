// Package rates is the exchange-rate module: a state container holding the
// latest quotes for one base currency, refreshed by a polling engine with an
// injected fetcher.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/statekit/statekit/internal/bus"
	"github.com/statekit/statekit/internal/poll"
	"github.com/statekit/statekit/internal/state"
)

// Name is the module's bus namespace. Its actions and events are
// "CurrencyRates:getState" and "CurrencyRates:stateChange".
const Name bus.Namespace = "CurrencyRates"

// State is the module's published state.
type State struct {
	// BaseCurrency is the currency rates are quoted against.
	BaseCurrency string `json:"baseCurrency"`

	// Rates maps an asset symbol to its rate in the base currency.
	Rates map[string]float64 `json:"rates"`

	// UpdatedAt is the wall-clock time of the last successful refresh,
	// zero until the first refresh lands.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Quotes is one fetched payload.
type Quotes struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Module owns the rate container and its polling engine.
type Module struct {
	container *state.Container[State]
	engine    *poll.Engine[State, Quotes]
}

// New creates the module on m with the given base currency, refresh interval,
// and fetcher. Engine options pass through to the polling engine.
func New(m *bus.Messenger, currency string, interval time.Duration, fetch poll.Fetcher[Quotes], opts ...poll.Option) (*Module, error) {
	c, err := state.New(Name, State{BaseCurrency: currency, Rates: map[string]float64{}}, m)
	if err != nil {
		return nil, err
	}

	eng := poll.New(c, interval, fetch, applyQuotes, opts...)
	return &Module{container: c, engine: eng}, nil
}

func applyQuotes(draft *State, q Quotes) {
	if q.Base != "" {
		draft.BaseCurrency = q.Base
	}
	draft.Rates = q.Rates
	draft.UpdatedAt = time.Now().UTC()
}

// Container returns the module's state container.
func (m *Module) Container() *state.Container[State] { return m.container }

// Engine returns the module's polling engine.
func (m *Module) Engine() *poll.Engine[State, Quotes] { return m.engine }

// State returns a copy of the current state.
func (m *Module) State() State { return m.container.State() }

// Rate returns the rate for symbol, or false if no quote is held.
func (m *Module) Rate(symbol string) (float64, bool) {
	v, ok := m.container.State().Rates[symbol]
	return v, ok
}

// Destroy stops the container. Outstanding poll tokens become inert; their
// refreshes fail against the destroyed container and are reported as
// transient errors.
func (m *Module) Destroy() error { return m.container.Destroy() }

// HTTPFetcher returns a fetcher that GETs url and decodes a Quotes document
// from the response body. A nil client means http.DefaultClient.
func HTTPFetcher(client *http.Client, url string) poll.Fetcher[Quotes] {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (Quotes, error) {
		var q Quotes
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return q, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return q, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return q, fmt.Errorf("fetch quotes: unexpected status %s", resp.Status)
		}
		if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
			return q, fmt.Errorf("decode quotes: %w", err)
		}
		return q, nil
	}
}
