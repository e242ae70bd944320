package bus

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAction_Duplicate(t *testing.T) {
	b := New()
	fn := ActionFunc(func(ctx context.Context, args ...any) (any, error) { return nil, nil })

	if err := b.RegisterAction("Rates:getState", fn); err != nil {
		t.Fatalf("RegisterAction() failed: %v", err)
	}
	if err := b.RegisterAction("Rates:getState", fn); !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("expected ErrDuplicateAction, got %v", err)
	}
}

func TestRegisterAction_Invalid(t *testing.T) {
	b := New()

	if err := b.RegisterAction("notqualified", func(ctx context.Context, args ...any) (any, error) { return nil, nil }); !errors.Is(err, ErrMalformedName) {
		t.Errorf("expected ErrMalformedName, got %v", err)
	}
	if err := b.RegisterAction("Rates:getState", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
}

func TestCall(t *testing.T) {
	b := New()
	wantErr := errors.New("handler error")

	err := b.RegisterAction("Rates:convert", func(ctx context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			t.Fatalf("expected 1 arg, got %d", len(args))
		}
		return args[0].(int) * 2, wantErr
	})
	if err != nil {
		t.Fatalf("RegisterAction() failed: %v", err)
	}

	got, err := b.Call(context.Background(), "Rates:convert", 21)
	if got != 42 {
		t.Errorf("Call() = %v, want 42", got)
	}
	// The bus is a pass-through: the handler error arrives unchanged.
	if err != wantErr {
		t.Errorf("Call() error = %v, want %v", err, wantErr)
	}
}

func TestCall_NotFound(t *testing.T) {
	b := New()
	if _, err := b.Call(context.Background(), "Rates:getState"); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("expected ErrActionNotFound, got %v", err)
	}
}

func TestUnregisterAction_Idempotent(t *testing.T) {
	b := New()
	fn := ActionFunc(func(ctx context.Context, args ...any) (any, error) { return "ok", nil })

	if err := b.RegisterAction("Rates:getState", fn); err != nil {
		t.Fatalf("RegisterAction() failed: %v", err)
	}
	b.UnregisterAction("Rates:getState")
	b.UnregisterAction("Rates:getState") // absent: no-op

	if _, err := b.Call(context.Background(), "Rates:getState"); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("expected ErrActionNotFound after unregister, got %v", err)
	}
	// The name is free for re-registration after unregister.
	if err := b.RegisterAction("Rates:getState", fn); err != nil {
		t.Errorf("re-RegisterAction() failed: %v", err)
	}
}

func TestPublish_SubscriptionOrder(t *testing.T) {
	b := New()
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		_, err := b.Subscribe("Rates:stateChange", ListenerFunc(func(ctx context.Context, args ...any) error {
			order = append(order, i)
			return nil
		}))
		if err != nil {
			t.Fatalf("Subscribe() failed: %v", err)
		}
	}

	if err := b.Publish(context.Background(), "Rates:stateChange", "payload"); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	if len(order) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("delivery %d went to listener %d, want %d", i, got, i)
		}
	}
}

func TestPublish_ErrorIsolation(t *testing.T) {
	var reported []error
	b := New(WithErrorHandler(func(err error) { reported = append(reported, err) }))

	var delivered []string
	subscribe := func(name string, fail error, explode bool) {
		t.Helper()
		_, err := b.Subscribe("Rates:stateChange", ListenerFunc(func(ctx context.Context, args ...any) error {
			if explode {
				panic(name)
			}
			delivered = append(delivered, name)
			return fail
		}))
		if err != nil {
			t.Fatalf("Subscribe(%s) failed: %v", name, err)
		}
	}

	subscribe("first", errors.New("boom"), false)
	subscribe("second", nil, true)
	subscribe("third", nil, false)

	if err := b.Publish(context.Background(), "Rates:stateChange"); err != nil {
		t.Fatalf("Publish() returned %v, listener failures must not propagate", err)
	}

	if len(delivered) != 2 || delivered[0] != "first" || delivered[1] != "third" {
		t.Errorf("delivered = %v, want [first third]", delivered)
	}
	if len(reported) != 2 {
		t.Fatalf("expected 2 reported failures, got %d: %v", len(reported), reported)
	}

	var le *ListenerError
	if !errors.As(reported[0], &le) {
		t.Errorf("reported[0] = %T, want *ListenerError", reported[0])
	}
	if !errors.Is(reported[1], ErrListenerPanic) {
		t.Errorf("reported[1] = %v, want ErrListenerPanic", reported[1])
	}

	stats := b.Stats()
	if stats.ListenerErrors != 1 || stats.ListenerPanics != 1 {
		t.Errorf("stats = %+v, want 1 error and 1 panic", stats)
	}
}

func TestPublish_StableSnapshot(t *testing.T) {
	b := New()

	var fired []string
	var subB *Subscription

	_, err := b.Subscribe("Rates:stateChange", ListenerFunc(func(ctx context.Context, args ...any) error {
		fired = append(fired, "a")
		// Unsubscribing b mid-publish must not affect this delivery.
		return b.Unsubscribe(subB)
	}))
	if err != nil {
		t.Fatalf("Subscribe(a) failed: %v", err)
	}

	subB, err = b.Subscribe("Rates:stateChange", ListenerFunc(func(ctx context.Context, args ...any) error {
		fired = append(fired, "b")
		return nil
	}))
	if err != nil {
		t.Fatalf("Subscribe(b) failed: %v", err)
	}

	if err := b.Publish(context.Background(), "Rates:stateChange"); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if len(fired) != 2 || fired[1] != "b" {
		t.Errorf("fired = %v, want [a b]", fired)
	}

	// The next publish operates on the shrunk list.
	fired = nil
	if err := b.Publish(context.Background(), "Rates:stateChange"); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if len(fired) != 1 || fired[0] != "a" {
		t.Errorf("fired = %v, want [a]", fired)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	count := 0
	sub, err := b.Subscribe("Rates:stateChange", ListenerFunc(func(ctx context.Context, args ...any) error {
		count++
		return nil
	}))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe() failed: %v", err)
	}
	if sub.IsActive() {
		t.Error("expected subscription to be inactive after Unsubscribe")
	}
	if err := b.Unsubscribe(sub); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}

	if err := b.Publish(context.Background(), "Rates:stateChange"); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("listener fired %d times after Unsubscribe returned", count)
	}
}

type recordingListener struct {
	notified int
}

func (l *recordingListener) Notify(ctx context.Context, args ...any) error {
	l.notified++
	return nil
}

func TestSubscribe_DuplicateListener(t *testing.T) {
	b := New()
	l := &recordingListener{}

	if _, err := b.Subscribe("Rates:stateChange", l); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if _, err := b.Subscribe("Rates:stateChange", l); !errors.Is(err, ErrDuplicateListener) {
		t.Errorf("expected ErrDuplicateListener, got %v", err)
	}
	// The same listener on a different channel is fine.
	if _, err := b.Subscribe("Gas:stateChange", l); err != nil {
		t.Errorf("Subscribe() on second channel failed: %v", err)
	}
	// A distinct listener value of the same type is not a duplicate.
	if _, err := b.Subscribe("Rates:stateChange", &recordingListener{}); err != nil {
		t.Errorf("Subscribe() with distinct listener failed: %v", err)
	}
}

func TestPublish_Selector(t *testing.T) {
	b := New()

	type snapshot struct {
		Currency string             `json:"currency"`
		Rates    map[string]float64 `json:"rates"`
	}

	var fired int
	_, err := b.Subscribe("Rates:stateChange", ListenerFunc(func(ctx context.Context, args ...any) error {
		fired++
		return nil
	}), WithSelector("rates.USD"))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	publish := func(s snapshot) {
		t.Helper()
		if err := b.Publish(context.Background(), "Rates:stateChange", s); err != nil {
			t.Fatalf("Publish() failed: %v", err)
		}
	}

	publish(snapshot{Currency: "ETH", Rates: map[string]float64{"USD": 3000}})
	if fired != 1 {
		t.Fatalf("expected first delivery, fired = %d", fired)
	}

	// Unrelated change: selected sub-value unchanged, no redundant delivery.
	publish(snapshot{Currency: "BTC", Rates: map[string]float64{"USD": 3000}})
	if fired != 1 {
		t.Errorf("listener fired on unchanged selection, fired = %d", fired)
	}

	publish(snapshot{Currency: "BTC", Rates: map[string]float64{"USD": 3100}})
	if fired != 2 {
		t.Errorf("listener missed a changed selection, fired = %d", fired)
	}

	if got := b.Stats().Suppressed; got != 1 {
		t.Errorf("Stats().Suppressed = %d, want 1", got)
	}
}

func TestClearChannel(t *testing.T) {
	b := New()

	for i := 0; i < 3; i++ {
		if _, err := b.Subscribe("Rates:stateChange", ListenerFunc(func(ctx context.Context, args ...any) error { return nil })); err != nil {
			t.Fatalf("Subscribe() failed: %v", err)
		}
	}

	if got := b.ClearChannel("Rates:stateChange"); got != 3 {
		t.Errorf("ClearChannel() = %d, want 3", got)
	}
	if got := b.Stats().Subscriptions; got != 0 {
		t.Errorf("Stats().Subscriptions = %d, want 0", got)
	}
}
