package strategy

import (
	"sync"

	"krx-trader/internal/domain"
)

// Compile-time interface check.
var _ Strategy = (*Momentum)(nil)

// MomentumConfig tunes the momentum strategy. Percentages are absolute
// values; the strategy applies the sign.
type MomentumConfig struct {
	// MinPrice filters out symbols trading below this price.
	MinPrice float64
	// RSIPeriod is the lookback for the relative strength index.
	RSIPeriod int
	// RSIFloor and RSICeil bound the RSI band a candidate entry must sit in.
	RSIFloor float64
	RSICeil  float64
	// RSIExit is the overbought level that forces a technical exit.
	RSIExit float64
	// TakeProfitPct closes a position once unrealized profit reaches it.
	TakeProfitPct float64
	// StopLossPct closes a position once unrealized loss reaches it.
	StopLossPct float64
	// History caps the per-symbol price window.
	History int
}

func (c *MomentumConfig) withDefaults() {
	if c.MinPrice <= 0 {
		c.MinPrice = 10000
	}
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = 14
	}
	if c.RSIFloor <= 0 {
		c.RSIFloor = 20
	}
	if c.RSICeil <= 0 {
		c.RSICeil = 80
	}
	if c.RSIExit <= 0 {
		c.RSIExit = 75
	}
	if c.TakeProfitPct <= 0 {
		c.TakeProfitPct = 3.0
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = 2.0
	}
	if c.History <= 0 {
		c.History = 50
	}
}

// Momentum buys liquid symbols that hold near their short moving average
// with an RSI that is neither washed out nor overbought, and exits on a
// fixed take-profit, stop-loss, or deteriorating technicals.
type Momentum struct {
	cfg MomentumConfig

	mu     sync.Mutex
	prices map[string][]float64
}

// NewMomentum creates a momentum strategy. Zero config fields get defaults.
func NewMomentum(cfg MomentumConfig) *Momentum {
	cfg.withDefaults()
	return &Momentum{
		cfg:    cfg,
		prices: make(map[string][]float64),
	}
}

// Name returns "momentum".
func (m *Momentum) Name() string { return "momentum" }

// Observe appends one price observation to the symbol's window.
func (m *Momentum) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	window := append(m.prices[symbol], price)
	if len(window) > m.cfg.History {
		window = window[len(window)-m.cfg.History:]
	}
	m.prices[symbol] = window
}

// BuySignal requires enough history for the RSI, a price above the minimum,
// an RSI inside the configured band, the price holding within 2% of its
// 5-observation average, and no fresh 5-observation drawdown beyond 2%.
func (m *Momentum) BuySignal(symbol string, price float64) bool {
	if price < m.cfg.MinPrice {
		return false
	}
	window := m.window(symbol)
	if len(window) < m.cfg.RSIPeriod+1 {
		return false
	}

	r := rsi(window, m.cfg.RSIPeriod)
	if r < m.cfg.RSIFloor || r > m.cfg.RSICeil {
		return false
	}
	ma5 := movingAverage(window, 5)
	if ma5 <= 0 || price < ma5*0.98 {
		return false
	}
	if ago := window[len(window)-5]; ago > 0 && price/ago < 0.98 {
		return false
	}
	return true
}

// SellSignal closes on take-profit, stop-loss, or technical deterioration
// (overbought RSI or the price falling well under its short average).
func (m *Momentum) SellSignal(symbol string, price, avgCost float64) domain.ExitReason {
	if avgCost <= 0 {
		return domain.ExitNone
	}
	profitPct := (price - avgCost) / avgCost * 100
	if profitPct >= m.cfg.TakeProfitPct {
		return domain.ExitTakeProfit
	}
	if profitPct <= -m.cfg.StopLossPct {
		return domain.ExitStopLoss
	}

	window := m.window(symbol)
	if len(window) >= m.cfg.RSIPeriod+1 {
		if rsi(window, m.cfg.RSIPeriod) >= m.cfg.RSIExit {
			return domain.ExitTechnical
		}
		if ma5 := movingAverage(window, 5); ma5 > 0 && price < ma5*0.95 {
			return domain.ExitTechnical
		}
	}
	return domain.ExitNone
}

func (m *Momentum) window(symbol string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.prices[symbol]...)
}

// ---------------------------------------------------------------------------
// Indicators
// ---------------------------------------------------------------------------

// movingAverage returns the mean of the last n values, or 0 when fewer than
// n are available.
func movingAverage(values []float64, n int) float64 {
	if len(values) < n || n <= 0 {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// rsi computes the relative strength index over the last period changes.
// All-gain windows return 100, all-loss windows 0.
func rsi(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 50
	}
	recent := values[len(values)-period-1:]
	var gains, losses float64
	for i := 1; i < len(recent); i++ {
		diff := recent[i] - recent[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if gains+losses == 0 {
		return 50
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}
