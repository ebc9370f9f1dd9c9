package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"krx-trader/internal/broker"
	"krx-trader/internal/domain"
	"krx-trader/internal/journal"
	"krx-trader/internal/notify"
)

// Options tunes the order manager's retry and reconciliation policy.
type Options struct {
	// MaxRetry is the total number of submission attempts per order.
	MaxRetry int
	// RetryDelay is the pause between submission attempts.
	RetryDelay time.Duration
	// StaleAfter is how long a submitted order may rest unfilled before
	// reconciliation kicks in.
	StaleAfter time.Duration
	// CallTimeout bounds every broker call.
	CallTimeout time.Duration
	// ResubmitStale re-places cancelled stale orders at the current price
	// when attempts remain. When false, stale orders are abandoned.
	ResubmitStale bool
}

func (o *Options) withDefaults() {
	if o.MaxRetry <= 0 {
		o.MaxRetry = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 30 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
}

// OrderManager owns the order lifecycle: submission with bounded retry,
// status polling, fill application, and reconciliation of stale unfilled
// orders. It is the only component that mutates the PositionBook.
type OrderManager struct {
	broker   broker.BrokerClient
	book     *PositionBook
	journal  journal.TradeJournal
	notifier notify.Notifier
	log      *slog.Logger
	opts     Options
	events   EventFunc

	mu     sync.Mutex
	active map[string]*domain.Order
	closed map[domain.OrderState]int // cumulative counts of finished orders
	seq    int64
}

// NewOrderManager wires an order manager. Zero fields in opts get defaults.
func NewOrderManager(b broker.BrokerClient, book *PositionBook, j journal.TradeJournal, n notify.Notifier, log *slog.Logger, opts Options) *OrderManager {
	opts.withDefaults()
	return &OrderManager{
		broker:   b,
		book:     book,
		journal:  j,
		notifier: n,
		log:      log.With("component", "orders"),
		opts:     opts,
		active:   make(map[string]*domain.Order),
		closed:   make(map[domain.OrderState]int),
	}
}

// SetEventFunc installs an operator event sink. Call before trading starts.
func (m *OrderManager) SetEventFunc(fn EventFunc) { m.events = fn }

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// SubmitWithRetry validates and submits a limit order, retrying transient
// broker failures up to the configured attempt budget. It returns the
// engine-assigned order ID on acceptance.
func (m *OrderManager) SubmitWithRetry(ctx context.Context, symbol string, side domain.OrderSide, qty int64, limitPrice float64) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("order %s: qty must be positive, got %d", symbol, qty)
	}
	if limitPrice <= 0 {
		return "", fmt.Errorf("order %s: limit price must be positive, got %.2f", symbol, limitPrice)
	}
	switch side {
	case domain.OrderSideBuy:
		if !m.book.CanAfford(qty, limitPrice) {
			err := &InsufficientFundsError{Symbol: symbol, Qty: qty, Price: limitPrice, Cash: m.book.Cash()}
			m.journalError(ctx, "insufficient_funds", err.Error())
			return "", err
		}
	case domain.OrderSideSell:
		pos, _ := m.book.Position(symbol)
		if pos.Qty < qty {
			return "", fmt.Errorf("order %s: sell x%d exceeds held %d", symbol, qty, pos.Qty)
		}
	default:
		return "", fmt.Errorf("order %s: unknown side %q", symbol, side)
	}

	ord := m.newOrder(symbol, side, domain.OrderTypeLimit, qty, limitPrice)
	if err := m.submit(ctx, ord, ord.ID); err != nil {
		return "", err
	}
	return ord.ID, nil
}

// Liquidate closes the full position in symbol with a market sell so the
// order cannot rest unfilled. Affordability does not apply; liquidation is
// always allowed. A flat symbol is a no-op.
func (m *OrderManager) Liquidate(ctx context.Context, symbol string) error {
	pos, ok := m.book.Position(symbol)
	if !ok || pos.Qty == 0 {
		return nil
	}
	ord := m.newOrder(symbol, domain.OrderSideSell, domain.OrderTypeMarket, pos.Qty, 0)
	return m.submit(ctx, ord, ord.ID)
}

func (m *OrderManager) newOrder(symbol string, side domain.OrderSide, typ domain.OrderType, qty int64, limitPrice float64) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := time.Now()
	ord := &domain.Order{
		ID:         fmt.Sprintf("ord-%s-%d-%d", symbol, now.UTC().Unix(), m.seq),
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Qty:        qty,
		LimitPrice: limitPrice,
		State:      domain.OrderStateNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.active[ord.ID] = ord
	return ord
}

// submit runs the bounded-retry placement loop. idemKey is the client order
// ID sent to the broker; it stays constant across retries of the same
// submission round so the broker cannot double-fill.
func (m *OrderManager) submit(ctx context.Context, ord *domain.Order, idemKey string) error {
	var last error
	for m.attempts(ord) < m.opts.MaxRetry {
		attempt := m.bumpAttempt(ord)
		m.setState(ord, domain.OrderStateSubmitting)

		cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		brokerID, err := m.broker.PlaceOrder(cctx, broker.PlaceOrderRequest{
			IdempotencyKey: idemKey,
			Symbol:         ord.Symbol,
			Side:           ord.Side,
			Type:           ord.Type,
			Qty:            ord.Qty,
			LimitPrice:     ord.LimitPrice,
		})
		cancel()

		if err == nil {
			m.accept(ord, brokerID)
			m.log.Info("order submitted",
				"order", ord.ID, "broker_order", brokerID,
				"symbol", ord.Symbol, "side", ord.Side, "type", ord.Type,
				"qty", ord.Qty, "limit", ord.LimitPrice, "attempt", attempt)
			return nil
		}

		if !broker.IsTransient(err) {
			m.finish(ord, domain.OrderStateRejectedTerminal)
			msg := fmt.Sprintf("order %s rejected: %v", ord.ID, err)
			m.journalError(ctx, "terminal_broker_error", msg)
			m.notify(ctx, msg)
			m.events.emit(Event{Type: EventOrderRejected, Symbol: ord.Symbol, Message: msg})
			m.log.Error("order rejected", "order", ord.ID, "symbol", ord.Symbol, "err", err)
			return fmt.Errorf("order %s: %w", ord.ID, err)
		}

		last = err
		m.setState(ord, domain.OrderStateRejectedRetryable)
		m.journalError(ctx, "transient_broker_error",
			fmt.Sprintf("order %s attempt %d/%d: %v", ord.ID, attempt, m.opts.MaxRetry, err))
		m.log.Warn("order attempt failed",
			"order", ord.ID, "symbol", ord.Symbol,
			"attempt", attempt, "max", m.opts.MaxRetry, "err", err)

		if m.attempts(ord) < m.opts.MaxRetry {
			select {
			case <-time.After(m.opts.RetryDelay):
			case <-ctx.Done():
				m.finish(ord, domain.OrderStateCancelled)
				m.journalError(ctx, "order_cancelled",
					fmt.Sprintf("order %s cancelled: %v", ord.ID, ctx.Err()))
				return ctx.Err()
			}
		}
	}

	m.finish(ord, domain.OrderStateRejectedTerminal)
	rerr := &RetryExhaustedError{OrderID: ord.ID, Attempts: m.attempts(ord), Last: last}
	m.journalError(ctx, "retry_exhausted", rerr.Error())
	m.notify(ctx, rerr.Error())
	m.events.emit(Event{Type: EventOrderRejected, Symbol: ord.Symbol, Message: rerr.Error()})
	m.log.Error("retry budget exhausted", "order", ord.ID, "symbol", ord.Symbol, "attempts", rerr.Attempts)
	return rerr
}

// ---------------------------------------------------------------------------
// Status polling and fills
// ---------------------------------------------------------------------------

// CheckOrderStatus polls the broker for one active order, applies any new
// fill quantity to the book, and advances the order's state. Broker-side
// fill reports are cumulative, so re-delivery of an already-applied report
// is a no-op. When the broker state cannot be mapped the order is left as
// is, to be re-polled next cycle.
func (m *OrderManager) CheckOrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	ord := m.lookup(orderID)
	if ord == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if !m.state(ord).Accepted() {
		return m.state(ord), nil
	}

	cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	status, err := m.broker.GetOrderStatus(cctx, m.brokerID(ord))
	cancel()
	if errors.Is(err, broker.ErrUnknownOrderState) {
		m.journalError(ctx, "unknown_order_state",
			fmt.Sprintf("order %s: %v", ord.ID, err))
		m.log.Warn("unmapped broker state, assuming unfilled", "order", ord.ID, "err", err)
		return m.state(ord), nil
	}
	if err != nil {
		m.log.Warn("status poll failed", "order", ord.ID, "err", err)
		return m.state(ord), err
	}

	if status.FilledQty > 0 {
		if err := m.applyFill(ctx, ord, status); err != nil {
			return m.state(ord), err
		}
	}

	switch status.State {
	case domain.OrderStateFilled:
		m.finish(ord, domain.OrderStateFilled)
	case domain.OrderStatePartiallyFilled:
		m.setState(ord, domain.OrderStatePartiallyFilled)
	case domain.OrderStateCancelled:
		m.finish(ord, domain.OrderStateCancelled)
		m.journalError(ctx, "order_cancelled",
			fmt.Sprintf("order %s cancelled by broker", ord.ID))
	case domain.OrderStateRejectedTerminal:
		m.finish(ord, domain.OrderStateRejectedTerminal)
		msg := fmt.Sprintf("order %s rejected by broker", ord.ID)
		m.journalError(ctx, "order_rejected", msg)
		m.events.emit(Event{Type: EventOrderRejected, Symbol: ord.Symbol, Message: msg})
	}
	return m.state(ord), nil
}

func (m *OrderManager) applyFill(ctx context.Context, ord *domain.Order, status domain.OrderStatus) error {
	now := time.Now()
	applied, realized, err := m.book.ApplyFill(domain.Fill{
		OrderID:       ord.ID,
		BrokerOrderID: m.brokerID(ord),
		Symbol:        ord.Symbol,
		Side:          ord.Side,
		Qty:           status.FilledQty,
		Price:         status.AvgFillPrice,
		Seq:           status.FilledQty,
		At:            now,
	})
	if err != nil {
		m.journalError(ctx, "fill_apply_failed", err.Error())
		m.log.Error("fill could not be booked", "order", ord.ID, "err", err)
		return err
	}
	if applied == 0 {
		return nil // already booked
	}

	if jerr := m.journal.RecordFill(ctx, journal.FillRecord{
		OrderID:       ord.ID,
		BrokerOrderID: m.brokerID(ord),
		Symbol:        ord.Symbol,
		Side:          ord.Side,
		Qty:           applied,
		Price:         status.AvgFillPrice,
		RealizedPnL:   realized,
		CashAfter:     m.book.Cash(),
		At:            now,
	}); jerr != nil {
		m.log.Error("journal write failed", "order", ord.ID, "err", jerr)
	}

	msg := fmt.Sprintf("%s %s x%d @ %.0f", ord.Side, ord.Symbol, applied, status.AvgFillPrice)
	if ord.Side == domain.OrderSideSell {
		msg = fmt.Sprintf("%s (pnl %+.0f)", msg, realized)
	}
	m.notify(ctx, msg)
	m.events.emit(Event{Type: EventFill, Symbol: ord.Symbol, Message: msg, At: now})
	m.log.Info("fill applied",
		"order", ord.ID, "symbol", ord.Symbol, "side", ord.Side,
		"qty", applied, "price", status.AvgFillPrice, "realized", realized,
		"cash", m.book.Cash())
	return nil
}

// PollActive checks the status of every active order, oldest first. Per-order
// failures are logged and skipped; the next cycle retries them.
func (m *OrderManager) PollActive(ctx context.Context) {
	for _, id := range m.activeIDs() {
		if _, err := m.CheckOrderStatus(ctx, id); err != nil && !errors.Is(err, ErrUnknownOrder) {
			m.log.Warn("poll failed", "order", id, "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Stale order reconciliation
// ---------------------------------------------------------------------------

// ManageUnfilledOrders reconciles orders that have rested unfilled past the
// staleness threshold: re-poll once in case a fill raced in, then cancel at
// the broker and either resubmit at the current price (when policy and the
// attempt budget allow) or abandon with a single cancellation record. A
// reconciliation that cannot complete (poll or cancel failure) leaves the
// order pending and is retried after another staleness interval, so an order
// resting live at the broker always sees further cancel attempts.
func (m *OrderManager) ManageUnfilledOrders(ctx context.Context) {
	now := time.Now()
	for _, id := range m.activeIDs() {
		ord := m.lookup(id)
		if ord == nil {
			continue
		}
		state := m.state(ord)
		if state != domain.OrderStateSubmitted && state != domain.OrderStateUnfilledPending {
			continue
		}
		if now.Sub(m.updatedAt(ord)) < m.opts.StaleAfter {
			continue
		}

		first := state == domain.OrderStateSubmitted
		m.setState(ord, domain.OrderStateUnfilledPending)
		if first {
			m.events.emit(Event{Type: EventOrderStale, Symbol: ord.Symbol,
				Message: fmt.Sprintf("order %s unfilled past %s", ord.ID, m.opts.StaleAfter)})
			m.log.Info("order stale, reconciling", "order", ord.ID, "symbol", ord.Symbol)
		} else {
			m.log.Info("retrying stale reconciliation", "order", ord.ID, "symbol", ord.Symbol)
		}

		state, err := m.CheckOrderStatus(ctx, id)
		if err != nil {
			continue // still pending; retry next cycle
		}
		if state != domain.OrderStateUnfilledPending {
			continue // fill or terminal state raced in
		}

		cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		err = m.broker.CancelOrder(cctx, m.brokerID(ord))
		cancel()
		if err != nil {
			m.journalError(ctx, "cancel_failed",
				fmt.Sprintf("order %s: %v", ord.ID, err))
			m.log.Warn("cancel failed", "order", ord.ID, "err", err)
			continue
		}

		if m.opts.ResubmitStale && m.attempts(ord) < m.opts.MaxRetry {
			if m.resubmit(ctx, ord) {
				continue
			}
		}

		m.finish(ord, domain.OrderStateCancelled)
		m.journalError(ctx, "order_cancelled",
			fmt.Sprintf("order %s cancelled unfilled after %s", ord.ID, m.opts.StaleAfter))
		m.log.Info("stale order abandoned", "order", ord.ID, "symbol", ord.Symbol)
	}
}

// resubmit re-places a cancelled stale order at the current best price. The
// broker sees a fresh idempotency key: the old one belongs to the cancelled
// submission and must not be reused.
func (m *OrderManager) resubmit(ctx context.Context, ord *domain.Order) bool {
	cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	price, err := m.broker.GetCurrentPrice(cctx, ord.Symbol)
	cancel()
	if err != nil {
		m.log.Warn("resubmit price lookup failed, abandoning", "order", ord.ID, "err", err)
		return false
	}
	m.mu.Lock()
	ord.BrokerOrderID = "" // belongs to the cancelled broker order
	ord.LimitPrice = price
	attempt := ord.Attempts
	m.mu.Unlock()

	key := fmt.Sprintf("%s-r%d", ord.ID, attempt+1)
	if err := m.submit(ctx, ord, key); err != nil {
		m.log.Warn("resubmit failed", "order", ord.ID, "err", err)
		return true // submit already finished the order
	}
	m.log.Info("stale order resubmitted", "order", ord.ID, "symbol", ord.Symbol, "limit", price)
	return true
}

// ---------------------------------------------------------------------------
// Observability
// ---------------------------------------------------------------------------

// OrderSummary returns order counts by state: live states from the active
// table plus cumulative counts of finished orders.
func (m *OrderManager) OrderSummary() map[domain.OrderState]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.OrderState]int, len(m.closed)+4)
	for state, n := range m.closed {
		out[state] = n
	}
	for _, ord := range m.active {
		out[ord.State]++
	}
	return out
}

// ActiveOrders returns copies of the active orders, oldest first.
func (m *OrderManager) ActiveOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.active))
	for _, ord := range m.active {
		out = append(out, *ord)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ---------------------------------------------------------------------------
// Locked accessors
// ---------------------------------------------------------------------------

func (m *OrderManager) lookup(id string) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

func (m *OrderManager) activeIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := make([]*domain.Order, 0, len(m.active))
	for _, ord := range m.active {
		orders = append(orders, ord)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	ids := make([]string, len(orders))
	for i, ord := range orders {
		ids[i] = ord.ID
	}
	return ids
}

func (m *OrderManager) state(ord *domain.Order) domain.OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ord.State
}

func (m *OrderManager) setState(ord *domain.Order, s domain.OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord.State = s
	ord.UpdatedAt = time.Now()
}

func (m *OrderManager) accept(ord *domain.Order, brokerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord.BrokerOrderID = brokerID
	ord.State = domain.OrderStateSubmitted
	ord.UpdatedAt = time.Now()
}

func (m *OrderManager) finish(ord *domain.Order, s domain.OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord.State = s
	ord.UpdatedAt = time.Now()
	delete(m.active, ord.ID)
	m.closed[s]++
	if ord.BrokerOrderID != "" {
		m.book.ForgetOrder(ord.BrokerOrderID)
	}
}

func (m *OrderManager) attempts(ord *domain.Order) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ord.Attempts
}

func (m *OrderManager) bumpAttempt(ord *domain.Order) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord.Attempts++
	return ord.Attempts
}

func (m *OrderManager) brokerID(ord *domain.Order) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ord.BrokerOrderID
}

func (m *OrderManager) updatedAt(ord *domain.Order) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ord.UpdatedAt
}

// journalError writes an error record. The write is detached from the
// caller's cancellation so shutdown still gets journaled.
func (m *OrderManager) journalError(ctx context.Context, kind, msg string) {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.journal.RecordError(jctx, kind, msg); err != nil {
		m.log.Error("journal write failed", "kind", kind, "err", err)
	}
}

func (m *OrderManager) notify(ctx context.Context, msg string) {
	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.notifier.Send(nctx, msg); err != nil {
		m.log.Warn("notification failed", "err", err)
	}
}
