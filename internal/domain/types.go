// Package domain defines the core entities shared across the trading engine:
// orders, positions, fills, and the risk state machine.
package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes limit orders from market orders. Liquidation always
// uses market orders so it cannot rest unfilled.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderState is the engine-side lifecycle state of an order.
//
// The lifecycle is:
//
//	NEW → SUBMITTING → SUBMITTED → {PARTIALLY_FILLED → FILLED | FILLED |
//	CANCELLED | REJECTED_RETRYABLE → SUBMITTING | REJECTED_TERMINAL}
//
// UNFILLED_PENDING is a sub-state of SUBMITTED: accepted by the broker,
// unfilled past the staleness threshold, awaiting reconciliation.
type OrderState string

const (
	OrderStateNew               OrderState = "new"
	OrderStateSubmitting        OrderState = "submitting"
	OrderStateSubmitted         OrderState = "submitted"
	OrderStateUnfilledPending   OrderState = "unfilled_pending"
	OrderStatePartiallyFilled   OrderState = "partially_filled"
	OrderStateFilled            OrderState = "filled"
	OrderStateCancelled         OrderState = "cancelled"
	OrderStateRejectedRetryable OrderState = "rejected_retryable"
	OrderStateRejectedTerminal  OrderState = "rejected_terminal"
)

// Terminal reports whether the state ends the order's lifecycle.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejectedTerminal:
		return true
	}
	return false
}

// Accepted reports whether the order has been accepted by the broker, i.e.
// whether a broker order ID must be present.
func (s OrderState) Accepted() bool {
	switch s {
	case OrderStateSubmitted, OrderStateUnfilledPending, OrderStatePartiallyFilled, OrderStateFilled:
		return true
	}
	return false
}

// Order is one submission attempt chain for a single trade intent. The ID is
// engine-assigned, stable across retries, and doubles as the idempotency
// token sent to the broker.
type Order struct {
	ID            string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Qty           int64
	LimitPrice    float64
	State         OrderState
	Attempts      int
	BrokerOrderID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Position is the aggregate holding for one symbol. AvgCost is the
// volume-weighted purchase price; RealizedPnL accumulates over the day and
// only changes on sell fills.
type Position struct {
	Symbol      string
	Qty         int64
	AvgCost     float64
	RealizedPnL float64
}

// Fill is a broker confirmation that some or all of an order's quantity
// executed. Seq is the cumulative filled quantity reported by the broker at
// the time of the confirmation; together with BrokerOrderID it identifies a
// fill event for deduplication.
type Fill struct {
	OrderID       string
	BrokerOrderID string
	Symbol        string
	Side          OrderSide
	Qty           int64
	Price         float64
	Seq           int64
	At            time.Time
}

// OrderStatus is a broker-side status snapshot for a submitted order.
type OrderStatus struct {
	State        OrderState
	FilledQty    int64
	AvgFillPrice float64
}

// RiskState is the RiskGuard state machine.
type RiskState string

const (
	RiskStateNormal   RiskState = "normal"
	RiskStateBreached RiskState = "breached"
	RiskStateStopped  RiskState = "stopped"
)

// ExitReason labels why a sell signal fired.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTechnical  ExitReason = "technical"
)
