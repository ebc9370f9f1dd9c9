package domain

import (
	"testing"
	"time"
)

func TestOrderStateTerminal(t *testing.T) {
	terminal := []OrderState{OrderStateFilled, OrderStateCancelled, OrderStateRejectedTerminal}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	open := []OrderState{
		OrderStateNew, OrderStateSubmitting, OrderStateSubmitted,
		OrderStateUnfilledPending, OrderStatePartiallyFilled, OrderStateRejectedRetryable,
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestOrderStateAccepted(t *testing.T) {
	// Accepted states are exactly those in which a broker order ID must be set.
	accepted := []OrderState{
		OrderStateSubmitted, OrderStateUnfilledPending,
		OrderStatePartiallyFilled, OrderStateFilled,
	}
	for _, s := range accepted {
		if !s.Accepted() {
			t.Errorf("%s.Accepted() = false, want true", s)
		}
	}

	notAccepted := []OrderState{
		OrderStateNew, OrderStateSubmitting, OrderStateCancelled,
		OrderStateRejectedRetryable, OrderStateRejectedTerminal,
	}
	for _, s := range notAccepted {
		if s.Accepted() {
			t.Errorf("%s.Accepted() = true, want false", s)
		}
	}
}

func TestZeroValues(t *testing.T) {
	order := Order{}
	if order.ID != "" || order.BrokerOrderID != "" {
		t.Error("expected empty IDs for zero-value Order")
	}
	if order.Qty != 0 || order.Attempts != 0 {
		t.Error("expected zero Qty/Attempts for zero-value Order")
	}
	if !order.CreatedAt.IsZero() || !order.UpdatedAt.IsZero() {
		t.Error("expected zero timestamps for zero-value Order")
	}

	pos := Position{Symbol: "005930", Qty: 10, AvgCost: 70000}
	if pos.RealizedPnL != 0 {
		t.Error("expected zero RealizedPnL for fresh Position")
	}

	fill := Fill{
		OrderID:       "ord-1",
		BrokerOrderID: "brk-1",
		Symbol:        "005930",
		Side:          OrderSideBuy,
		Qty:           10,
		Price:         70000,
		Seq:           10,
		At:            time.Now(),
	}
	if fill.Side != OrderSideBuy {
		t.Errorf("fill.Side = %q, want %q", fill.Side, OrderSideBuy)
	}

	if OrderSideBuy != "buy" || OrderSideSell != "sell" {
		t.Error("OrderSide constants have unexpected values")
	}
	if RiskStateNormal != "normal" || RiskStateStopped != "stopped" {
		t.Error("RiskState constants have unexpected values")
	}
}
