// One-shot tool: digest a trading day from the journal, send the report
// through the configured notifier, and export the day's fills to Parquet.
//
// Usage:
//
//	go run cmd/krx-daily-summary/main.go [-date 2026-09-01]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"krx-trader/internal/config"
	"krx-trader/internal/domain"
	"krx-trader/internal/journal"
	"krx-trader/internal/notify"
	"krx-trader/internal/util"
)

func main() {
	dateFlag := flag.String("date", "", "trading day to summarize (YYYY-MM-DD, default today)")
	flag.Parse()

	cfgPath := "config.yaml"
	if p := os.Getenv("KRX_TRADER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	day := time.Now().UTC()
	if *dateFlag != "" {
		day, err = time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			log.Fatalf("invalid -date %q: %v", *dateFlag, err)
		}
	}

	trades, err := journal.NewSQLiteJournal(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer trades.Close()

	ctx := context.Background()
	fills, err := trades.FillsOn(ctx, day)
	if err != nil {
		log.Fatalf("reading fills: %v", err)
	}
	errCounts, err := trades.ErrorCountsOn(ctx, day)
	if err != nil {
		log.Fatalf("reading errors: %v", err)
	}
	stops, err := trades.StopsOn(ctx, day)
	if err != nil {
		log.Fatalf("reading stops: %v", err)
	}

	report := buildReport(day, fills, errCounts, stops)

	var notifier notify.Notifier
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}
	if err := notifier.Send(ctx, report); err != nil {
		logger.Error("sending report failed", "err", err)
	}
	fmt.Println(report)

	if len(fills) > 0 {
		path, err := journal.ExportFills(cfg.Storage.DataDir, day, fills)
		if err != nil {
			log.Fatalf("exporting fills: %v", err)
		}
		logger.Info("fills exported", "path", path, "records", len(fills))
	}
}

// buildReport renders the day's digest: trade counts, realized P&L, error
// tallies, and any emergency stops.
func buildReport(day time.Time, fills []journal.FillRecord, errCounts map[string]int, stops []journal.StopRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "daily summary %s\n", day.Format("2006-01-02"))

	var buys, sells int
	var realized float64
	for _, f := range fills {
		if f.Side == domain.OrderSideBuy {
			buys++
		} else {
			sells++
		}
		realized += f.RealizedPnL
	}
	fmt.Fprintf(&b, "trades: %d fills (%d buys, %d sells), realized pnl %+.0f\n", len(fills), buys, sells, realized)
	if len(fills) > 0 {
		fmt.Fprintf(&b, "closing cash: %.0f\n", fills[len(fills)-1].CashAfter)
	}

	if len(errCounts) > 0 {
		kinds := make([]string, 0, len(errCounts))
		for kind := range errCounts {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		b.WriteString("errors:\n")
		for _, kind := range kinds {
			fmt.Fprintf(&b, "- %s: %d\n", kind, errCounts[kind])
		}
	}

	for _, s := range stops {
		fmt.Fprintf(&b, "EMERGENCY STOP at %s: %s (equity %.0f, %d positions)\n",
			s.At.Format("15:04:05"), s.Reason, s.TotalEquity, len(s.Positions))
	}
	if len(fills) == 0 && len(errCounts) == 0 && len(stops) == 0 {
		b.WriteString("no activity\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
