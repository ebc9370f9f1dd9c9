package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"krx-trader/internal/broker"
	"krx-trader/internal/domain"
	"krx-trader/internal/engine"
	"krx-trader/internal/journal"
	"krx-trader/internal/notify"
)

// nullJournal satisfies journal.TradeJournal for API tests.
type nullJournal struct{}

func (nullJournal) RecordFill(context.Context, journal.FillRecord) error     { return nil }
func (nullJournal) RecordError(context.Context, string, string) error        { return nil }
func (nullJournal) RecordEmergencyStop(context.Context, journal.StopRecord) error { return nil }

type testEnv struct {
	sim    *broker.SimulatorBroker
	book   *engine.PositionBook
	orders *engine.OrderManager
	risk   *engine.RiskGuard
	srv    *httptest.Server
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sim := broker.NewSimulatorBroker()
	book := engine.NewPositionBook(10_000_000)
	orders := engine.NewOrderManager(sim, book, nullJournal{}, notify.NewLogNotifier(log), log, engine.Options{})
	risk := engine.NewRiskGuard(book, orders, nullJournal{}, notify.NewLogNotifier(log), log, 2.0)
	loop := engine.NewTradingLoop(sim, orders, book, risk, nil, nil, log, engine.LoopOptions{Watch: []string{"005930"}})

	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(book, orders, risk, loop, hub, log, "simulator", "momentum")
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testEnv{sim: sim, book: book, orders: orders, risk: risk, srv: srv, hub: hub}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var status map[string]any
	getJSON(t, env.srv.URL+"/api/status", &status)

	if status["broker"] != "simulator" {
		t.Errorf("broker = %v, want simulator", status["broker"])
	}
	if status["strategy"] != "momentum" {
		t.Errorf("strategy = %v, want momentum", status["strategy"])
	}
	if status["risk_state"] != "normal" {
		t.Errorf("risk_state = %v, want normal", status["risk_state"])
	}
}

func TestPositionsAndAccountEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.orders.SubmitWithRetry(ctx, "005930", domain.OrderSideBuy, 10, 70000)
	if err != nil {
		t.Fatalf("SubmitWithRetry: %v", err)
	}
	if _, err := env.orders.CheckOrderStatus(ctx, id); err != nil {
		t.Fatalf("CheckOrderStatus: %v", err)
	}

	var positions []domain.Position
	getJSON(t, env.srv.URL+"/api/positions", &positions)
	if len(positions) != 1 || positions[0].Symbol != "005930" || positions[0].Qty != 10 {
		t.Fatalf("positions = %+v, want one 005930 x10", positions)
	}

	var account map[string]float64
	getJSON(t, env.srv.URL+"/api/account", &account)
	if account["cash"] != 10_000_000-700_000 {
		t.Errorf("cash = %.0f, want 9300000", account["cash"])
	}
	if account["equity_at_cost"] != 10_000_000 {
		t.Errorf("equity_at_cost = %.0f, want 10000000", account["equity_at_cost"])
	}
}

func TestOrderSummaryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, _ := env.orders.SubmitWithRetry(ctx, "005930", domain.OrderSideBuy, 10, 70000)
	env.orders.CheckOrderStatus(ctx, id)

	var summary map[string]int
	getJSON(t, env.srv.URL+"/api/orders/summary", &summary)
	if summary["filled"] != 1 {
		t.Errorf("summary = %v, want filled=1", summary)
	}
}

func TestRiskResetEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.risk.TriggerEmergencyStop(context.Background(), "operator drill", nil)
	if env.risk.CanTrade() {
		t.Fatal("risk should be stopped before reset")
	}

	resp, err := http.Post(env.srv.URL+"/api/risk/reset", "application/json",
		strings.NewReader(`{"baseline": 9800000}`))
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}

	if !env.risk.CanTrade() {
		t.Error("risk still stopped after reset")
	}
	if env.book.Baseline() != 9_800_000 {
		t.Errorf("baseline = %.0f, want 9800000", env.book.Baseline())
	}
}

func TestRiskResetDefaultsToEquity(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.srv.URL+"/api/risk/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	resp.Body.Close()
	if env.book.Baseline() != 10_000_000 {
		t.Errorf("baseline = %.0f, want equity 10000000", env.book.Baseline())
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	// Registration races the broadcast; give the hub a beat.
	time.Sleep(50 * time.Millisecond)
	env.hub.Broadcast(engine.Event{Type: engine.EventFill, Symbol: "005930", Message: "buy 005930 x10 @ 70000"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev engine.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != engine.EventFill || ev.Symbol != "005930" {
		t.Errorf("event = %+v, want fill for 005930", ev)
	}
}
