package engine

import (
	"fmt"
	"sort"
	"sync"

	"krx-trader/internal/domain"
)

// PositionBook is the single-account state: cash, open positions, and the
// day's realized P&L. All mutation happens through ApplyFill so the cash and
// position invariants hold at every exit. Safe for concurrent readers.
type PositionBook struct {
	mu        sync.Mutex
	cash      float64
	baseline  float64 // equity at the last daily reset
	realized  float64 // day's realized P&L across all symbols
	positions map[string]*domain.Position

	// applied tracks the cumulative filled quantity already booked per
	// broker order ID. Re-delivered fill reports are no-ops.
	applied map[string]int64
}

// NewPositionBook creates an empty book with the given starting cash. The
// daily baseline starts at the same value.
func NewPositionBook(initialCash float64) *PositionBook {
	return &PositionBook{
		cash:      initialCash,
		baseline:  initialCash,
		positions: make(map[string]*domain.Position),
		applied:   make(map[string]int64),
	}
}

// ApplyFill books a fill report against cash and positions. Fill.Seq is the
// broker's cumulative filled quantity; only the delta beyond what was already
// applied for that broker order is booked, so duplicate delivery of the same
// report changes nothing. It returns the quantity actually applied (0 for a
// duplicate) and, for sells, the realized P&L delta.
func (b *PositionBook) ApplyFill(f domain.Fill) (int64, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.applied[f.BrokerOrderID]
	if f.Seq <= prev {
		return 0, 0, nil
	}
	qty := f.Seq - prev

	switch f.Side {
	case domain.OrderSideBuy:
		pos := b.positions[f.Symbol]
		if pos == nil {
			pos = &domain.Position{Symbol: f.Symbol}
			b.positions[f.Symbol] = pos
		}
		total := float64(pos.Qty)*pos.AvgCost + float64(qty)*f.Price
		pos.Qty += qty
		pos.AvgCost = total / float64(pos.Qty)
		b.cash -= float64(qty) * f.Price
		b.applied[f.BrokerOrderID] = f.Seq
		return qty, 0, nil

	case domain.OrderSideSell:
		pos := b.positions[f.Symbol]
		if pos == nil || pos.Qty < qty {
			var held int64
			if pos != nil {
				held = pos.Qty
			}
			return 0, 0, fmt.Errorf("book: sell fill %s x%d exceeds held %d", f.Symbol, qty, held)
		}
		realized := float64(qty) * (f.Price - pos.AvgCost)
		pos.Qty -= qty
		pos.RealizedPnL += realized
		b.realized += realized
		b.cash += float64(qty) * f.Price
		if pos.Qty == 0 {
			delete(b.positions, f.Symbol)
		}
		b.applied[f.BrokerOrderID] = f.Seq
		return qty, realized, nil
	}
	return 0, 0, fmt.Errorf("book: unknown fill side %q", f.Side)
}

// ForgetOrder drops the cumulative-fill tracking for a broker order. Called
// once the order reaches a terminal state and can report no further fills, so
// the dedup map does not grow for the life of the process.
func (b *PositionBook) ForgetOrder(brokerOrderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.applied, brokerOrderID)
}

// Cash returns available cash.
func (b *PositionBook) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// CanAfford reports whether a buy of qty at price is covered by cash.
func (b *PositionBook) CanAfford(qty int64, price float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(qty)*price <= b.cash
}

// Baseline returns the equity recorded at the last daily reset.
func (b *PositionBook) Baseline() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseline
}

// SetBaseline records a new daily baseline equity.
func (b *PositionBook) SetBaseline(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseline = v
}

// RealizedPnL returns the day's total realized P&L.
func (b *PositionBook) RealizedPnL() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realized
}

// Position returns a copy of the position for symbol, if open.
func (b *PositionBook) Position(symbol string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions, ordered by symbol.
func (b *PositionBook) Positions() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenSymbols returns the symbols with open positions in ascending order.
func (b *PositionBook) OpenSymbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.positions))
	for sym := range b.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// TotalEquity values the book at the supplied prices: cash plus the marked
// value of every open position. A symbol missing from prices is valued at its
// average cost.
func (b *PositionBook) TotalEquity(prices map[string]float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for sym, pos := range b.positions {
		price, ok := prices[sym]
		if !ok {
			price = pos.AvgCost
		}
		equity += float64(pos.Qty) * price
	}
	return equity
}
