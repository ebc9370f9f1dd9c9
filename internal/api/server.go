// Package api exposes the operator surface: a read-mostly HTTP API over the
// live engine state and a WebSocket stream of engine events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"krx-trader/internal/engine"
)

// Server serves the operator HTTP API.
type Server struct {
	book   *engine.PositionBook
	orders *engine.OrderManager
	risk   *engine.RiskGuard
	loop   *engine.TradingLoop
	hub    *Hub
	log    *slog.Logger

	brokerName   string
	strategyName string

	httpServer *http.Server
}

// NewServer wires the operator server. The hub may be shared with the
// engine's event sink.
func NewServer(book *engine.PositionBook, orders *engine.OrderManager, risk *engine.RiskGuard, loop *engine.TradingLoop, hub *Hub, log *slog.Logger, brokerName, strategyName string) *Server {
	return &Server{
		book:         book,
		orders:       orders,
		risk:         risk,
		loop:         loop,
		hub:          hub,
		log:          log.With("component", "api"),
		brokerName:   brokerName,
		strategyName: strategyName,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/orders/summary", s.handleOrderSummary)
	mux.HandleFunc("GET /api/risk", s.handleRisk)
	mux.HandleFunc("POST /api/risk/reset", s.handleRiskReset)
	mux.HandleFunc("GET /ws/events", s.hub.ServeWS)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ListenAndServe serves the API on addr until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- s.httpServer.ListenAndServe() }()
	s.log.Info("operator api listening", "addr", addr)

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(sctx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"broker":     s.brokerName,
		"strategy":   s.strategyName,
		"risk_state": s.risk.State(),
		"iterations": s.loop.Iterations(),
		"cash":       s.book.Cash(),
		"positions":  len(s.book.OpenSymbols()),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"cash":         s.book.Cash(),
		"baseline":     s.book.Baseline(),
		"realized_pnl": s.book.RealizedPnL(),
		// Open positions valued at cost; live marks come from the stream.
		"equity_at_cost": s.book.TotalEquity(nil),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.book.Positions())
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.orders.ActiveOrders())
}

func (s *Server) handleOrderSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.orders.OrderSummary())
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"state":          s.risk.State(),
		"loss_limit_pct": s.risk.LossLimitPct(),
		"baseline":       s.book.Baseline(),
		"last_reset":     s.risk.LastReset(),
	})
}

// handleRiskReset re-arms the guard after an operator has reviewed a stop.
// An explicit baseline may be posted; otherwise the book valued at cost is
// the new baseline.
func (s *Server) handleRiskReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Baseline float64 `json:"baseline"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
			return
		}
	}
	baseline := req.Baseline
	if baseline <= 0 {
		baseline = s.book.TotalEquity(nil)
	}

	s.risk.Reset(baseline)
	s.log.Info("risk guard reset via api", "baseline", baseline)
	writeJSON(w, map[string]any{
		"state":    s.risk.State(),
		"baseline": baseline,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
