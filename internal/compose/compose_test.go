package compose

import (
	"context"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/statekit/statekit/internal/bus"
	"github.com/statekit/statekit/internal/state"
)

type rates struct {
	USD float64 `json:"usd"`
}

type gas struct {
	Fast float64 `json:"fast"`
}

func newChildren(t *testing.T, b *bus.Bus) (*state.Container[rates], *state.Container[gas]) {
	t.Helper()
	r, err := state.New[rates]("Rates", rates{USD: 1}, b.Restrict("Rates", nil, nil))
	if err != nil {
		t.Fatalf("state.New(Rates) failed: %v", err)
	}
	g, err := state.New[gas]("Gas", gas{Fast: 30}, b.Restrict("Gas", nil, nil))
	if err != nil {
		t.Fatalf("state.New(Gas) failed: %v", err)
	}
	return r, g
}

func TestNew_Aggregates(t *testing.T) {
	b := bus.New()
	r, g := newChildren(t, b)

	comp, err := New(context.Background(), "Wallet", b.Restrict("Wallet", nil, nil), r, g)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	doc := string(comp.State())
	if got := gjson.Get(doc, "Rates.usd").Float(); got != 1 {
		t.Errorf("Rates.usd = %v, want 1", got)
	}
	if got := gjson.Get(doc, "Gas.fast").Float(); got != 30 {
		t.Errorf("Gas.fast = %v, want 30", got)
	}
}

func TestChildUpdate_PropagatesToAggregate(t *testing.T) {
	b := bus.New()
	r, g := newChildren(t, b)

	comp, err := New(context.Background(), "Wallet", b.Restrict("Wallet", nil, nil), r, g)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// The composite republishes child changes under its own name.
	fired := 0
	if _, err := b.Subscribe("Wallet:stateChange", bus.ListenerFunc(func(ctx context.Context, args ...any) error {
		fired++
		return nil
	})); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if _, err := r.Update(context.Background(), func(d *rates) error {
		d.USD = 2
		return nil
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if got := gjson.GetBytes(comp.State(), "Rates.usd").Float(); got != 2 {
		t.Errorf("Rates.usd = %v, want 2", got)
	}
	if fired != 1 {
		t.Errorf("Wallet:stateChange fired %d times, want 1", fired)
	}
}

func TestSetChildren_ReplacesAtomically(t *testing.T) {
	b := bus.New()
	r, g := newChildren(t, b)

	comp, err := New(context.Background(), "Wallet", b.Restrict("Wallet", nil, nil), r, g)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// Drop the gas child; keep rates.
	if err := comp.SetChildren(context.Background(), []Child{r}); err != nil {
		t.Fatalf("SetChildren() failed: %v", err)
	}

	doc := comp.State()
	if gjson.GetBytes(doc, "Gas").Exists() {
		t.Errorf("aggregate still holds removed child: %s", doc)
	}

	// The removed child's updates no longer reach the aggregate.
	if _, err := g.Update(context.Background(), func(d *gas) error {
		d.Fast = 99
		return nil
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if gjson.GetBytes(comp.State(), "Gas").Exists() {
		t.Error("removed child update leaked into the aggregate")
	}

	// The kept child delivers exactly once per update after rewiring.
	before := gjson.GetBytes(comp.State(), "Rates.usd").Float()
	if _, err := r.Update(context.Background(), func(d *rates) error {
		d.USD = before + 1
		return nil
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if got := gjson.GetBytes(comp.State(), "Rates.usd").Float(); got != before+1 {
		t.Errorf("Rates.usd = %v, want %v", got, before+1)
	}
}

func TestDestroy(t *testing.T) {
	b := bus.New()
	r, _ := newChildren(t, b)

	comp, err := New(context.Background(), "Wallet", b.Restrict("Wallet", nil, nil), r)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := comp.Destroy(); err != nil {
		t.Fatalf("Destroy() failed: %v", err)
	}

	// Child updates after destroy neither panic nor resurrect the aggregate.
	if _, err := r.Update(context.Background(), func(d *rates) error {
		d.USD = 5
		return nil
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}
