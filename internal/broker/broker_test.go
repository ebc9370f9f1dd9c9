package broker

import (
	"context"
	"errors"
	"testing"

	"krx-trader/internal/domain"
)

func TestErrorClassification(t *testing.T) {
	if !IsTransient(Transient(errors.New("timeout"))) {
		t.Error("Transient error not classified as transient")
	}
	if IsTransient(Terminal(errors.New("rejected"))) {
		t.Error("Terminal error classified as transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline expiry not classified as transient")
	}
	if IsTransient(nil) {
		t.Error("nil classified as transient")
	}

	// Wrapping preserves the original error.
	base := errors.New("rate limited")
	if !errors.Is(Transient(base), base) {
		t.Error("Transient does not unwrap to the original error")
	}
	if !errors.Is(Terminal(base), base) {
		t.Error("Terminal does not unwrap to the original error")
	}
}

func TestSimulatorPlaceAndFill(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()
	b.SetPrice("005930", 70000)

	id, err := b.PlaceOrder(ctx, PlaceOrderRequest{
		IdempotencyKey: "ord-1",
		Symbol:         "005930",
		Side:           domain.OrderSideBuy,
		Type:           domain.OrderTypeLimit,
		Qty:            10,
		LimitPrice:     70000,
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if id == "" {
		t.Fatal("PlaceOrder returned empty broker order ID")
	}

	status, err := b.GetOrderStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetOrderStatus returned error: %v", err)
	}
	if status.State != domain.OrderStateFilled {
		t.Errorf("status.State = %s, want %s", status.State, domain.OrderStateFilled)
	}
	if status.FilledQty != 10 || status.AvgFillPrice != 70000 {
		t.Errorf("fill = %d @ %.0f, want 10 @ 70000", status.FilledQty, status.AvgFillPrice)
	}
}

func TestSimulatorIdempotency(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()

	req := PlaceOrderRequest{
		IdempotencyKey: "ord-1",
		Symbol:         "005930",
		Side:           domain.OrderSideBuy,
		Type:           domain.OrderTypeLimit,
		Qty:            5,
		LimitPrice:     70000,
	}

	id1, err := b.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	id2, err := b.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("second PlaceOrder: %v", err)
	}
	if id1 != id2 {
		t.Errorf("duplicate submission created a new order: %s vs %s", id1, id2)
	}
}

func TestSimulatorScriptedFailures(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()
	req := PlaceOrderRequest{IdempotencyKey: "ord-1", Symbol: "005930", Side: domain.OrderSideBuy, Qty: 1, LimitPrice: 70000}

	b.FailPlaceOrders(2)
	for i := 0; i < 2; i++ {
		if _, err := b.PlaceOrder(ctx, req); !IsTransient(err) {
			t.Fatalf("attempt %d: expected transient error, got %v", i+1, err)
		}
	}
	if _, err := b.PlaceOrder(ctx, req); err != nil {
		t.Fatalf("third attempt should succeed, got %v", err)
	}

	b.RejectNextPlaceOrder()
	_, err := b.PlaceOrder(ctx, PlaceOrderRequest{IdempotencyKey: "ord-2", Symbol: "000660", Side: domain.OrderSideBuy, Qty: 1, LimitPrice: 30000})
	if err == nil || IsTransient(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestSimulatorHoldAndCancel(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()
	b.SetPrice("005930", 70000)
	b.HoldFills("005930")

	id, err := b.PlaceOrder(ctx, PlaceOrderRequest{IdempotencyKey: "ord-1", Symbol: "005930", Side: domain.OrderSideBuy, Qty: 10, LimitPrice: 70000})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	status, err := b.GetOrderStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if status.State != domain.OrderStateSubmitted {
		t.Errorf("held order state = %s, want %s", status.State, domain.OrderStateSubmitted)
	}

	b.FailCancelOrders(1)
	if err := b.CancelOrder(ctx, id); !IsTransient(err) {
		t.Fatalf("scripted cancel failure = %v, want transient", err)
	}
	if err := b.CancelOrder(ctx, id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	status, err = b.GetOrderStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetOrderStatus after cancel: %v", err)
	}
	if status.State != domain.OrderStateCancelled {
		t.Errorf("cancelled order state = %s, want %s", status.State, domain.OrderStateCancelled)
	}
}

func TestSimulatorPartialFill(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()
	b.PartialFill("005930", 4)

	id, err := b.PlaceOrder(ctx, PlaceOrderRequest{IdempotencyKey: "ord-1", Symbol: "005930", Side: domain.OrderSideBuy, Qty: 10, LimitPrice: 70000})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	status, err := b.GetOrderStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if status.State != domain.OrderStatePartiallyFilled || status.FilledQty != 4 {
		t.Errorf("status = %s/%d, want %s/4", status.State, status.FilledQty, domain.OrderStatePartiallyFilled)
	}
}

func TestAlpacaStatusMapping(t *testing.T) {
	cases := []struct {
		in   string
		want domain.OrderState
	}{
		{"new", domain.OrderStateSubmitted},
		{"accepted", domain.OrderStateSubmitted},
		{"partially_filled", domain.OrderStatePartiallyFilled},
		{"filled", domain.OrderStateFilled},
		{"canceled", domain.OrderStateCancelled},
		{"expired", domain.OrderStateCancelled},
		{"rejected", domain.OrderStateRejectedTerminal},
	}
	for _, c := range cases {
		got, ok := mapOrderStatus(c.in)
		if !ok {
			t.Errorf("mapOrderStatus(%q) not recognized", c.in)
			continue
		}
		if got != c.want {
			t.Errorf("mapOrderStatus(%q) = %s, want %s", c.in, got, c.want)
		}
	}

	if _, ok := mapOrderStatus("definitely_not_a_status"); ok {
		t.Error("unknown status should not map")
	}
}

func TestBrokerNames(t *testing.T) {
	if got := NewSimulatorBroker().Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets", "", 0, 60)
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}
