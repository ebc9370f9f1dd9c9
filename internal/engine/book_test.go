package engine

import (
	"math"
	"testing"

	"krx-trader/internal/domain"
)

func buyFill(brokerID, symbol string, seq int64, price float64) domain.Fill {
	return domain.Fill{BrokerOrderID: brokerID, Symbol: symbol, Side: domain.OrderSideBuy, Seq: seq, Price: price}
}

func sellFill(brokerID, symbol string, seq int64, price float64) domain.Fill {
	return domain.Fill{BrokerOrderID: brokerID, Symbol: symbol, Side: domain.OrderSideSell, Seq: seq, Price: price}
}

func TestApplyFillBuyAveraging(t *testing.T) {
	b := NewPositionBook(10_000_000)

	if _, _, err := b.ApplyFill(buyFill("b1", "005930", 10, 70000)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if _, _, err := b.ApplyFill(buyFill("b2", "005930", 10, 80000)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	pos, ok := b.Position("005930")
	if !ok {
		t.Fatal("position missing")
	}
	if pos.Qty != 20 {
		t.Errorf("Qty = %d, want 20", pos.Qty)
	}
	if pos.AvgCost != 75000 {
		t.Errorf("AvgCost = %.0f, want 75000", pos.AvgCost)
	}
	if got, want := b.Cash(), 10_000_000-700_000-800_000.0; got != want {
		t.Errorf("Cash = %.0f, want %.0f", got, want)
	}
}

func TestApplyFillSellRealizesAndFlattens(t *testing.T) {
	b := NewPositionBook(10_000_000)
	b.ApplyFill(buyFill("b1", "005930", 10, 70000))

	_, realized, err := b.ApplyFill(sellFill("s1", "005930", 4, 75000))
	if err != nil {
		t.Fatalf("ApplyFill sell: %v", err)
	}
	if realized != 20000 {
		t.Errorf("realized = %.0f, want 20000", realized)
	}
	pos, _ := b.Position("005930")
	if pos.Qty != 6 || pos.AvgCost != 70000 {
		t.Errorf("after partial sell: qty=%d avg=%.0f, want 6/70000", pos.Qty, pos.AvgCost)
	}

	// Selling the rest flattens the position entirely: no zero-qty entry
	// with a stale average cost may survive.
	if _, _, err := b.ApplyFill(sellFill("s2", "005930", 6, 72000)); err != nil {
		t.Fatalf("ApplyFill sell: %v", err)
	}
	if _, ok := b.Position("005930"); ok {
		t.Error("flat position should be removed")
	}
	if len(b.OpenSymbols()) != 0 {
		t.Errorf("OpenSymbols = %v, want empty", b.OpenSymbols())
	}
	if got, want := b.RealizedPnL(), 20000+12000.0; got != want {
		t.Errorf("RealizedPnL = %.0f, want %.0f", got, want)
	}
}

func TestApplyFillDuplicateIsNoOp(t *testing.T) {
	b := NewPositionBook(10_000_000)
	b.ApplyFill(buyFill("b1", "005930", 10, 70000))
	cash := b.Cash()

	applied, _, err := b.ApplyFill(buyFill("b1", "005930", 10, 70000))
	if err != nil {
		t.Fatalf("duplicate ApplyFill: %v", err)
	}
	if applied != 0 {
		t.Errorf("duplicate applied %d shares, want 0", applied)
	}
	if b.Cash() != cash {
		t.Errorf("duplicate fill moved cash: %.0f → %.0f", cash, b.Cash())
	}
	pos, _ := b.Position("005930")
	if pos.Qty != 10 {
		t.Errorf("Qty = %d, want 10", pos.Qty)
	}
}

func TestApplyFillCumulativeDeltas(t *testing.T) {
	b := NewPositionBook(10_000_000)

	applied, _, _ := b.ApplyFill(buyFill("b1", "005930", 4, 70000))
	if applied != 4 {
		t.Errorf("first report applied %d, want 4", applied)
	}
	applied, _, _ = b.ApplyFill(buyFill("b1", "005930", 10, 70000))
	if applied != 6 {
		t.Errorf("second report applied %d, want 6", applied)
	}
	pos, _ := b.Position("005930")
	if pos.Qty != 10 {
		t.Errorf("Qty = %d, want 10", pos.Qty)
	}
}

func TestApplyFillOversell(t *testing.T) {
	b := NewPositionBook(10_000_000)
	b.ApplyFill(buyFill("b1", "005930", 5, 70000))

	if _, _, err := b.ApplyFill(sellFill("s1", "005930", 10, 70000)); err == nil {
		t.Fatal("oversell should error")
	}
	if _, _, err := b.ApplyFill(sellFill("s2", "035720", 1, 50000)); err == nil {
		t.Fatal("selling an unheld symbol should error")
	}
	pos, _ := b.Position("005930")
	if pos.Qty != 5 {
		t.Errorf("failed sell mutated position: qty=%d", pos.Qty)
	}
}

func TestForgetOrderDropsFillTracking(t *testing.T) {
	b := NewPositionBook(10_000_000)
	b.ApplyFill(buyFill("b1", "005930", 10, 70000))

	b.mu.Lock()
	tracked := len(b.applied)
	b.mu.Unlock()
	if tracked != 1 {
		t.Fatalf("tracked orders = %d, want 1", tracked)
	}

	b.ForgetOrder("b1")
	b.ForgetOrder("never-seen") // no-op

	b.mu.Lock()
	tracked = len(b.applied)
	b.mu.Unlock()
	if tracked != 0 {
		t.Errorf("tracked orders after forget = %d, want 0", tracked)
	}
}

func TestTotalEquityAndAffordability(t *testing.T) {
	b := NewPositionBook(1_000_000)
	b.ApplyFill(buyFill("b1", "005930", 10, 70000))
	b.ApplyFill(buyFill("b2", "000660", 5, 30000))
	// cash = 1_000_000 - 700_000 - 150_000 = 150_000

	equity := b.TotalEquity(map[string]float64{"005930": 72000, "000660": 31000})
	if want := 150_000 + 720_000 + 155_000.0; math.Abs(equity-want) > 1e-9 {
		t.Errorf("TotalEquity = %.0f, want %.0f", equity, want)
	}

	// A symbol missing from prices is valued at average cost.
	equity = b.TotalEquity(map[string]float64{"005930": 72000})
	if want := 150_000 + 720_000 + 150_000.0; math.Abs(equity-want) > 1e-9 {
		t.Errorf("TotalEquity without 000660 price = %.0f, want %.0f", equity, want)
	}

	if !b.CanAfford(2, 75000) {
		t.Error("CanAfford(2, 75000) = false, want true")
	}
	if b.CanAfford(3, 75000) {
		t.Error("CanAfford(3, 75000) = true, want false")
	}
}

func TestBaseline(t *testing.T) {
	b := NewPositionBook(10_000_000)
	if b.Baseline() != 10_000_000 {
		t.Errorf("initial baseline = %.0f, want 10000000", b.Baseline())
	}
	b.SetBaseline(9_500_000)
	if b.Baseline() != 9_500_000 {
		t.Errorf("baseline = %.0f, want 9500000", b.Baseline())
	}
}
