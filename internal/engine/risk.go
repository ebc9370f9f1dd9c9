package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"krx-trader/internal/domain"
	"krx-trader/internal/journal"
	"krx-trader/internal/notify"
)

// RiskGuard enforces the daily loss limit. It is a three-state machine:
// normal (trading allowed), breached (limit hit, liquidation in progress),
// stopped (liquidation done, only a reset re-enables trading).
type RiskGuard struct {
	book     *PositionBook
	orders   *OrderManager
	journal  journal.TradeJournal
	notifier notify.Notifier
	log      *slog.Logger
	events   EventFunc

	lossLimitPct float64 // negative, e.g. -2.0

	mu        sync.Mutex
	state     domain.RiskState
	lastReset time.Time
}

// NewRiskGuard wires a risk guard. lossLimitPct is interpreted as a loss
// threshold regardless of sign; 0 means the default 2% daily limit.
func NewRiskGuard(book *PositionBook, orders *OrderManager, j journal.TradeJournal, n notify.Notifier, log *slog.Logger, lossLimitPct float64) *RiskGuard {
	if lossLimitPct == 0 {
		lossLimitPct = 2.0
	}
	return &RiskGuard{
		book:         book,
		orders:       orders,
		journal:      j,
		notifier:     n,
		log:          log.With("component", "risk"),
		lossLimitPct: -math.Abs(lossLimitPct),
		state:        domain.RiskStateNormal,
		lastReset:    time.Now(),
	}
}

// SetEventFunc installs an operator event sink. Call before trading starts.
func (g *RiskGuard) SetEventFunc(fn EventFunc) { g.events = fn }

// State returns the current risk state.
func (g *RiskGuard) State() domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CanTrade reports whether new buys are allowed.
func (g *RiskGuard) CanTrade() bool { return g.State() == domain.RiskStateNormal }

// LossLimitPct returns the configured limit as a negative percentage.
func (g *RiskGuard) LossLimitPct() float64 { return g.lossLimitPct }

// LastReset returns when the baseline was last reset.
func (g *RiskGuard) LastReset() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReset
}

// LossPct returns the day's equity change against the baseline, in percent,
// valued at the supplied prices.
func (g *RiskGuard) LossPct(prices map[string]float64) float64 {
	baseline := g.book.Baseline()
	if baseline <= 0 {
		return 0
	}
	return (g.book.TotalEquity(prices) - baseline) / baseline * 100
}

// Evaluate compares current equity against the daily baseline and triggers
// an emergency stop when the loss limit is breached. Once breached the guard
// never re-arms on its own; Reset is the only way back.
func (g *RiskGuard) Evaluate(ctx context.Context, prices map[string]float64) {
	if g.State() != domain.RiskStateNormal {
		return
	}
	lossPct := g.LossPct(prices)
	if lossPct > g.lossLimitPct {
		return
	}

	g.mu.Lock()
	g.state = domain.RiskStateBreached
	g.mu.Unlock()
	g.log.Error("daily loss limit breached",
		"loss_pct", lossPct, "limit_pct", g.lossLimitPct,
		"equity", g.book.TotalEquity(prices), "baseline", g.book.Baseline())

	reason := fmt.Sprintf("daily loss %.2f%% breached limit %.2f%%", lossPct, g.lossLimitPct)
	g.TriggerEmergencyStop(ctx, reason, prices)
}

// TriggerEmergencyStop liquidates every open position with market sells in
// ascending symbol order, journals a stop record with the pre-liquidation
// book, and notifies the operator. Liquidation is best-effort: a failed sell
// is journaled and the remaining symbols still go out. Idempotent; a second
// trigger is a no-op.
func (g *RiskGuard) TriggerEmergencyStop(ctx context.Context, reason string, prices map[string]float64) {
	g.mu.Lock()
	if g.state == domain.RiskStateStopped {
		g.mu.Unlock()
		return
	}
	g.state = domain.RiskStateStopped
	g.mu.Unlock()

	now := time.Now()
	equity := g.book.TotalEquity(prices)
	summaries := g.snapshot(prices)

	g.log.Error("emergency stop", "reason", reason, "positions", len(summaries), "equity", equity)
	for _, sym := range g.book.OpenSymbols() {
		if err := g.orders.Liquidate(ctx, sym); err != nil {
			g.journalError(ctx, "liquidation_failed", fmt.Sprintf("%s: %v", sym, err))
			g.log.Error("liquidation failed", "symbol", sym, "err", err)
		}
	}
	// Book whatever filled immediately; the loop halts after a stop, so this
	// is the last chance to poll.
	g.orders.PollActive(ctx)

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.journal.RecordEmergencyStop(jctx, journal.StopRecord{
		Reason:      reason,
		TotalEquity: equity,
		Positions:   summaries,
		At:          now,
	}); err != nil {
		g.log.Error("journal write failed", "err", err)
	}

	if err := g.notifier.Send(jctx, stopReport(reason, equity, summaries)); err != nil {
		g.log.Warn("notification failed", "err", err)
	}
	g.events.emit(Event{Type: EventEmergencyStop, Message: reason, At: now})
}

// Reset re-arms the guard with a fresh baseline. Called at the trading-day
// boundary, or by an operator after reviewing an emergency stop.
func (g *RiskGuard) Reset(newBaseline float64) {
	g.mu.Lock()
	g.state = domain.RiskStateNormal
	g.lastReset = time.Now()
	g.mu.Unlock()
	g.book.SetBaseline(newBaseline)
	g.log.Info("risk guard reset", "baseline", newBaseline)
	g.events.emit(Event{Type: EventRiskReset, Message: fmt.Sprintf("baseline %.0f", newBaseline)})
}

// snapshot captures per-symbol report lines before liquidation mutates the
// book.
func (g *RiskGuard) snapshot(prices map[string]float64) []journal.PositionSummary {
	positions := g.book.Positions()
	out := make([]journal.PositionSummary, 0, len(positions))
	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			price = pos.AvgCost
		}
		var profitPct float64
		if pos.AvgCost > 0 {
			profitPct = (price - pos.AvgCost) / pos.AvgCost * 100
		}
		out = append(out, journal.PositionSummary{
			Symbol:    pos.Symbol,
			Qty:       pos.Qty,
			AvgCost:   pos.AvgCost,
			Price:     price,
			ProfitPct: profitPct,
		})
	}
	return out
}

func stopReport(reason string, equity float64, positions []journal.PositionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EMERGENCY STOP: %s\n", reason)
	fmt.Fprintf(&b, "total equity %.0f, liquidating %d position(s)\n", equity, len(positions))
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s x%d avg %.0f now %.0f (%+.2f%%)\n",
			p.Symbol, p.Qty, p.AvgCost, p.Price, p.ProfitPct)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (g *RiskGuard) journalError(ctx context.Context, kind, msg string) {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.journal.RecordError(jctx, kind, msg); err != nil {
		g.log.Error("journal write failed", "kind", kind, "err", err)
	}
}
