package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"krx-trader/internal/api"
	"krx-trader/internal/broker"
	"krx-trader/internal/config"
	"krx-trader/internal/engine"
	"krx-trader/internal/journal"
	"krx-trader/internal/notify"
	"krx-trader/internal/strategy"
	"krx-trader/internal/util"
)

func main() {
	cfgPath := "config.yaml"
	if p := os.Getenv("KRX_TRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	trades, err := journal.NewSQLiteJournal(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer trades.Close()

	var notifier notify.Notifier
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		logger.Info("telegram notifications enabled")
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	var client broker.BrokerClient
	switch cfg.Broker.Name {
	case "alpaca":
		client = broker.NewAlpacaBroker(
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL,
			cfg.Trading.CallTimeout.Std(), cfg.Alpaca.RateLimitPerMin)
	default:
		client = broker.NewSimulatorBroker()
		logger.Warn("using simulator broker; no live quotes will arrive")
	}
	logger.Info("broker ready", "broker", client.Name())

	book := engine.NewPositionBook(cfg.Trading.InitialCash)
	orders := engine.NewOrderManager(client, book, trades, notifier, logger, engine.Options{
		MaxRetry:      cfg.Trading.MaxRetry,
		RetryDelay:    cfg.Trading.RetryDelay.Std(),
		StaleAfter:    cfg.Trading.StaleAfter.Std(),
		CallTimeout:   cfg.Trading.CallTimeout.Std(),
		ResubmitStale: cfg.Trading.ResubmitStale,
	})
	risk := engine.NewRiskGuard(book, orders, trades, notifier, logger, cfg.Trading.DailyLossLimitPct)

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewMomentum(strategy.MomentumConfig{}))
	strat, ok := registry.Get(cfg.Trading.Strategy)
	if !ok {
		log.Fatalf("unknown strategy %q (have %v)", cfg.Trading.Strategy, registry.List())
	}

	var calendar engine.Calendar
	if cfg.Trading.MarketHoursOnly {
		calendar = util.NewKRXCalendar()
	}

	loop := engine.NewTradingLoop(client, orders, book, risk, strat, calendar, logger, engine.LoopOptions{
		Watch:          cfg.Trading.WatchSymbols,
		PollInterval:   cfg.Trading.PollInterval.Std(),
		MaxIterations:  cfg.Trading.MaxIterations,
		MaxQtyPerOrder: cfg.Trading.MaxQtyPerOrder,
		CashFraction:   cfg.Trading.CashFraction,
		CallTimeout:    cfg.Trading.CallTimeout.Std(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub(logger)
	go hub.Run(ctx)
	events := func(ev engine.Event) { hub.Broadcast(ev) }
	orders.SetEventFunc(events)
	risk.SetEventFunc(events)

	server := api.NewServer(book, orders, risk, loop, hub, logger, client.Name(), strat.Name())
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(ctx, addr); err != nil {
			logger.Error("operator api failed", "err", err)
		}
	}()

	if err := loop.Run(ctx); err != nil {
		logger.Error("trading loop exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
