package broker

import (
	"context"
	"fmt"
	"sync"

	"krx-trader/internal/domain"
)

// Compile-time interface check.
var _ BrokerClient = (*SimulatorBroker)(nil)

// SimulatorBroker is an in-memory BrokerClient for paper trading and tests.
// By default every accepted order fills completely at the next status poll.
// Failure modes (transient errors, terminal rejections, stuck or partial
// fills) are scripted per instance so tests stay deterministic.
type SimulatorBroker struct {
	mu sync.Mutex

	prices  map[string]float64
	orders  map[string]*simOrder
	byKey   map[string]string // idempotency key → broker order ID
	held    map[string]bool   // symbols whose orders never auto-fill
	partial map[string]int64  // symbol → qty reported as partially filled

	failPlace  int  // remaining PlaceOrder calls that fail transiently
	failCancel int  // remaining CancelOrder calls that fail transiently
	rejectNext bool // next PlaceOrder fails terminally

	seq int
}

type simOrder struct {
	id        string
	req       PlaceOrderRequest
	cancelled bool
}

// NewSimulatorBroker creates an empty simulator.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		prices:  make(map[string]float64),
		orders:  make(map[string]*simOrder),
		byKey:   make(map[string]string),
		held:    make(map[string]bool),
		partial: make(map[string]int64),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string { return "simulator" }

// SetPrice sets the current price for a symbol.
func (b *SimulatorBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// FailPlaceOrders makes the next n PlaceOrder calls fail with a transient
// error before any order is accepted.
func (b *SimulatorBroker) FailPlaceOrders(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPlace = n
}

// FailCancelOrders makes the next n CancelOrder calls fail with a transient
// error, leaving the order live.
func (b *SimulatorBroker) FailCancelOrders(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCancel = n
}

// RejectNextPlaceOrder makes the next PlaceOrder call fail terminally.
func (b *SimulatorBroker) RejectNextPlaceOrder() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectNext = true
}

// HoldFills keeps orders for symbol in the submitted state until
// ReleaseFills is called or the order is cancelled.
func (b *SimulatorBroker) HoldFills(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held[symbol] = true
}

// ReleaseFills lets held orders for symbol fill again.
func (b *SimulatorBroker) ReleaseFills(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, symbol)
}

// PartialFill makes status polls for symbol report qty filled instead of the
// full order quantity.
func (b *SimulatorBroker) PartialFill(symbol string, qty int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial[symbol] = qty
}

// PlaceOrder accepts the order unless a scripted failure is pending.
// Submitting the same idempotency key twice returns the original broker
// order ID instead of creating a duplicate.
func (b *SimulatorBroker) PlaceOrder(_ context.Context, req PlaceOrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failPlace > 0 {
		b.failPlace--
		return "", Transient(fmt.Errorf("simulated timeout placing %s %s", req.Side, req.Symbol))
	}
	if b.rejectNext {
		b.rejectNext = false
		return "", Terminal(fmt.Errorf("simulated rejection for %s", req.Symbol))
	}

	if id, ok := b.byKey[req.IdempotencyKey]; ok {
		return id, nil
	}

	b.seq++
	id := fmt.Sprintf("sim-%d", b.seq)
	b.orders[id] = &simOrder{id: id, req: req}
	if req.IdempotencyKey != "" {
		b.byKey[req.IdempotencyKey] = id
	}
	return id, nil
}

// GetOrderStatus reports the order as filled at its limit price (or the
// current price for market orders) unless the symbol's fills are held or
// scripted as partial.
func (b *SimulatorBroker) GetOrderStatus(_ context.Context, brokerOrderID string) (domain.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return domain.OrderStatus{}, Terminal(fmt.Errorf("unknown order %s", brokerOrderID))
	}
	if o.cancelled {
		return domain.OrderStatus{State: domain.OrderStateCancelled}, nil
	}
	if b.held[o.req.Symbol] {
		return domain.OrderStatus{State: domain.OrderStateSubmitted}, nil
	}

	price := o.req.LimitPrice
	if o.req.Type == domain.OrderTypeMarket || price == 0 {
		price = b.prices[o.req.Symbol]
	}

	if qty, ok := b.partial[o.req.Symbol]; ok && qty < o.req.Qty {
		return domain.OrderStatus{
			State:        domain.OrderStatePartiallyFilled,
			FilledQty:    qty,
			AvgFillPrice: price,
		}, nil
	}

	return domain.OrderStatus{
		State:        domain.OrderStateFilled,
		FilledQty:    o.req.Qty,
		AvgFillPrice: price,
	}, nil
}

// CancelOrder marks the order cancelled. Cancelling an unknown order is a
// terminal error.
func (b *SimulatorBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failCancel > 0 {
		b.failCancel--
		return Transient(fmt.Errorf("simulated timeout cancelling %s", brokerOrderID))
	}

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return Terminal(fmt.Errorf("unknown order %s", brokerOrderID))
	}
	o.cancelled = true
	return nil
}

// GetCurrentPrice returns the configured price for symbol.
func (b *SimulatorBroker) GetCurrentPrice(_ context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}
