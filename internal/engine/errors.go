package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownOrder is returned when an order ID is not in the active table.
var ErrUnknownOrder = errors.New("engine: unknown order")

// InsufficientFundsError means a buy could not be covered by available cash.
// The order is never submitted to the broker.
type InsufficientFundsError struct {
	Symbol string
	Qty    int64
	Price  float64
	Cash   float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s x%d @ %.0f needs %.0f, have %.0f",
		e.Symbol, e.Qty, e.Price, float64(e.Qty)*e.Price, e.Cash)
}

// RetryExhaustedError means every submission attempt failed with a retryable
// error and the retry budget is spent. Last holds the final broker error.
type RetryExhaustedError struct {
	OrderID  string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("order %s: gave up after %d attempts: %v", e.OrderID, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }
