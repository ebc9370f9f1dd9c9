package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"krx-trader/internal/broker"
	"krx-trader/internal/domain"
)

// Strategy decides entries and exits from the observed price stream. Observe
// is called once per cycle for every priced symbol; the signal methods are
// pure reads.
type Strategy interface {
	Name() string
	Observe(symbol string, price float64)
	BuySignal(symbol string, price float64) bool
	SellSignal(symbol string, price, avgCost float64) domain.ExitReason
}

// Calendar gates trading to market hours and defines the trading-day key
// used for daily baseline resets.
type Calendar interface {
	IsOpen(t time.Time) bool
	TradingDay(t time.Time) string
}

// LoopOptions tunes the trading loop.
type LoopOptions struct {
	// Watch is the symbol universe scanned for entries.
	Watch []string
	// PollInterval is the pause between cycles.
	PollInterval time.Duration
	// MaxIterations bounds the loop for offline runs; 0 means run until the
	// context is cancelled or an emergency stop halts trading.
	MaxIterations int
	// MaxQtyPerOrder caps the size of a single entry.
	MaxQtyPerOrder int64
	// CashFraction is the portion of cash a single entry may spend.
	CashFraction float64
	// CallTimeout bounds each price lookup.
	CallTimeout time.Duration
}

func (o *LoopOptions) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.MaxQtyPerOrder <= 0 {
		o.MaxQtyPerOrder = 10
	}
	if o.CashFraction <= 0 || o.CashFraction > 1 {
		o.CashFraction = 0.95
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
}

// TradingLoop drives one cycle after another: refresh prices, exit held
// positions, enter new ones, poll active orders, reconcile stale ones, and
// evaluate risk. A panic anywhere in a cycle triggers an emergency stop
// before the loop exits.
type TradingLoop struct {
	broker   broker.BrokerClient
	orders   *OrderManager
	book     *PositionBook
	risk     *RiskGuard
	strategy Strategy
	calendar Calendar // nil means always open
	log      *slog.Logger
	opts     LoopOptions

	mu         sync.Mutex
	iterations int
	lastPrices map[string]float64
}

// NewTradingLoop wires a trading loop. calendar may be nil for offline runs.
func NewTradingLoop(b broker.BrokerClient, orders *OrderManager, book *PositionBook, risk *RiskGuard, strat Strategy, calendar Calendar, log *slog.Logger, opts LoopOptions) *TradingLoop {
	opts.withDefaults()
	return &TradingLoop{
		broker:   b,
		orders:   orders,
		book:     book,
		risk:     risk,
		strategy: strat,
		calendar: calendar,
		log:      log.With("component", "loop"),
		opts:     opts,
	}
}

// Iterations returns the number of completed cycles.
func (l *TradingLoop) Iterations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iterations
}

// Run executes trading cycles until the context is cancelled, the iteration
// budget is spent, or an emergency stop halts trading. Cancellation is a
// clean exit, not an error.
func (l *TradingLoop) Run(ctx context.Context) error {
	l.log.Info("trading loop started",
		"strategy", l.strategy.Name(), "watch", l.opts.Watch,
		"poll_interval", l.opts.PollInterval, "max_iterations", l.opts.MaxIterations)

	day := l.tradingDay(time.Now())
	for i := 1; l.opts.MaxIterations == 0 || i <= l.opts.MaxIterations; i++ {
		if ctx.Err() != nil {
			l.log.Info("trading loop stopped", "reason", "context cancelled")
			return nil
		}

		now := time.Now()
		if d := l.tradingDay(now); d != day {
			day = d
			l.resetDay(ctx)
		}

		if l.risk.State() == domain.RiskStateStopped {
			l.log.Info("trading loop halted", "reason", "emergency stop")
			return nil
		}

		if l.calendar != nil && !l.calendar.IsOpen(now) {
			l.log.Debug("market closed, idling")
			if !l.sleep(ctx) {
				return nil
			}
			continue
		}

		if err := l.cycle(ctx); err != nil {
			return err
		}
		l.mu.Lock()
		l.iterations++
		l.mu.Unlock()

		if l.opts.MaxIterations > 0 && i == l.opts.MaxIterations {
			break
		}
		if !l.sleep(ctx) {
			return nil
		}
	}
	l.log.Info("trading loop finished", "iterations", l.Iterations())
	return nil
}

// cycle runs one trading iteration. A panic is converted into an emergency
// stop plus an error return so the process can wind down deliberately.
func (l *TradingLoop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in trading cycle", "panic", r)
			l.risk.TriggerEmergencyStop(ctx, fmt.Sprintf("panic in trading cycle: %v", r), l.prices())
			err = fmt.Errorf("trading cycle panicked: %v", r)
		}
	}()

	prices := l.fetchPrices(ctx)
	if ctx.Err() != nil {
		return nil
	}
	for _, sym := range sortedKeys(prices) {
		l.strategy.Observe(sym, prices[sym])
	}

	l.scanExits(ctx, prices)
	l.scanEntries(ctx, prices)

	l.orders.PollActive(ctx)
	l.orders.ManageUnfilledOrders(ctx)
	l.risk.Evaluate(ctx, prices)
	return nil
}

// scanExits checks every held symbol against the strategy's exit conditions
// and submits full-position limit sells.
func (l *TradingLoop) scanExits(ctx context.Context, prices map[string]float64) {
	for _, sym := range l.book.OpenSymbols() {
		price, ok := prices[sym]
		if !ok || l.hasActiveOrder(sym) {
			continue
		}
		pos, held := l.book.Position(sym)
		if !held {
			continue
		}
		reason := l.strategy.SellSignal(sym, price, pos.AvgCost)
		if reason == domain.ExitNone {
			continue
		}
		if _, err := l.orders.SubmitWithRetry(ctx, sym, domain.OrderSideSell, pos.Qty, price); err != nil {
			l.log.Warn("exit submission failed", "symbol", sym, "reason", reason, "err", err)
			continue
		}
		l.log.Info("exit signal", "symbol", sym, "reason", reason, "price", price, "avg_cost", pos.AvgCost)
	}
}

// scanEntries checks unheld watch symbols for entry signals. Entries are
// skipped entirely outside the normal risk state.
func (l *TradingLoop) scanEntries(ctx context.Context, prices map[string]float64) {
	if !l.risk.CanTrade() {
		return
	}
	watch := append([]string(nil), l.opts.Watch...)
	sort.Strings(watch)
	for _, sym := range watch {
		price, ok := prices[sym]
		if !ok || l.hasActiveOrder(sym) {
			continue
		}
		if _, held := l.book.Position(sym); held {
			continue
		}
		if !l.strategy.BuySignal(sym, price) {
			continue
		}
		qty := l.orderQty(price)
		if qty == 0 {
			l.log.Debug("entry skipped, cash too low", "symbol", sym, "price", price)
			continue
		}
		if _, err := l.orders.SubmitWithRetry(ctx, sym, domain.OrderSideBuy, qty, price); err != nil {
			l.log.Warn("entry submission failed", "symbol", sym, "err", err)
			continue
		}
		l.log.Info("entry signal", "symbol", sym, "price", price, "qty", qty)
	}
}

// fetchPrices refreshes quotes for the watch list plus every held symbol.
// A failed lookup drops the symbol from this cycle only.
func (l *TradingLoop) fetchPrices(ctx context.Context) map[string]float64 {
	symbols := make(map[string]struct{}, len(l.opts.Watch))
	for _, sym := range l.opts.Watch {
		symbols[sym] = struct{}{}
	}
	for _, sym := range l.book.OpenSymbols() {
		symbols[sym] = struct{}{}
	}

	prices := make(map[string]float64, len(symbols))
	for _, sym := range sortedKeys(symbols) {
		cctx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
		price, err := l.broker.GetCurrentPrice(cctx, sym)
		cancel()
		if err != nil {
			l.log.Warn("price lookup failed", "symbol", sym, "err", err)
			continue
		}
		prices[sym] = price
	}

	l.mu.Lock()
	l.lastPrices = prices
	l.mu.Unlock()
	return prices
}

func (l *TradingLoop) prices() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPrices
}

// resetDay re-baselines the risk guard at the trading-day boundary.
func (l *TradingLoop) resetDay(ctx context.Context) {
	prices := l.fetchPrices(ctx)
	equity := l.book.TotalEquity(prices)
	l.log.Info("trading day boundary", "new_baseline", equity)
	l.risk.Reset(equity)
}

func (l *TradingLoop) hasActiveOrder(symbol string) bool {
	for _, ord := range l.orders.ActiveOrders() {
		if ord.Symbol == symbol {
			return true
		}
	}
	return false
}

// orderQty sizes an entry: the configured cash fraction at the given price,
// capped per order.
func (l *TradingLoop) orderQty(price float64) int64 {
	if price <= 0 {
		return 0
	}
	qty := int64(l.book.Cash() * l.opts.CashFraction / price)
	if qty > l.opts.MaxQtyPerOrder {
		qty = l.opts.MaxQtyPerOrder
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}

func (l *TradingLoop) tradingDay(t time.Time) string {
	if l.calendar != nil {
		return l.calendar.TradingDay(t)
	}
	return t.UTC().Format("2006-01-02")
}

// sleep waits one poll interval; false means the context was cancelled.
func (l *TradingLoop) sleep(ctx context.Context) bool {
	select {
	case <-time.After(l.opts.PollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
