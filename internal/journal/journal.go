// Package journal provides append-only structured records of everything the
// engine does: fills, errors, and emergency stops. One record per event. A
// journal write failure is non-fatal to trading; callers log it and move on.
package journal

import (
	"context"
	"time"

	"krx-trader/internal/domain"
)

// FillRecord is one executed fill together with the account state right
// after it was applied.
type FillRecord struct {
	OrderID       string
	BrokerOrderID string
	Symbol        string
	Side          domain.OrderSide
	Qty           int64
	Price         float64
	RealizedPnL   float64
	CashAfter     float64
	At            time.Time
}

// PositionSummary is a per-symbol line in an emergency-stop record.
type PositionSummary struct {
	Symbol    string
	Qty       int64
	AvgCost   float64
	Price     float64
	ProfitPct float64
}

// StopRecord summarizes an emergency stop: what triggered it and what the
// book looked like at the moment it fired.
type StopRecord struct {
	Reason      string
	TotalEquity float64
	Positions   []PositionSummary
	At          time.Time
}

// TradeJournal is the engine's persistent event sink.
type TradeJournal interface {
	RecordFill(ctx context.Context, rec FillRecord) error
	RecordError(ctx context.Context, kind, message string) error
	RecordEmergencyStop(ctx context.Context, rec StopRecord) error
}
