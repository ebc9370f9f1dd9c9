// Package broker defines the BrokerClient interface the engine trades
// through, an error taxonomy that drives the retry policy, and two
// implementations: a deterministic in-memory simulator and an Alpaca-backed
// client. The implementation is always selected by configuration, never by
// build platform.
package broker

import (
	"context"

	"krx-trader/internal/domain"
)

// PlaceOrderRequest carries everything needed to submit one order attempt.
// IdempotencyKey is the engine-assigned order ID; it is stable across
// retries so a broker that honors client order IDs will not duplicate fills.
type PlaceOrderRequest struct {
	IdempotencyKey string
	Symbol         string
	Side           domain.OrderSide
	Type           domain.OrderType
	Qty            int64
	LimitPrice     float64
}

// BrokerClient abstracts the brokerage operations the engine needs. All calls
// are synchronous; implementations must honor the caller's context deadline
// so a hung transport cannot wedge the trading loop.
type BrokerClient interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// PlaceOrder submits an order and returns the broker-assigned order ID.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error)

	// GetOrderStatus returns the latest broker-side status snapshot.
	GetOrderStatus(ctx context.Context, brokerOrderID string) (domain.OrderStatus, error)

	// CancelOrder requests cancellation of an open order.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetCurrentPrice returns the latest trade price for a symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}
