package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"krx-trader/internal/broker"
	"krx-trader/internal/journal"
)

// memJournal is an in-memory TradeJournal for engine tests.
type memJournal struct {
	mu     sync.Mutex
	fills  []journal.FillRecord
	errors map[string][]string
	stops  []journal.StopRecord
}

func newMemJournal() *memJournal {
	return &memJournal{errors: make(map[string][]string)}
}

func (j *memJournal) RecordFill(_ context.Context, rec journal.FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fills = append(j.fills, rec)
	return nil
}

func (j *memJournal) RecordError(_ context.Context, kind, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors[kind] = append(j.errors[kind], message)
	return nil
}

func (j *memJournal) RecordEmergencyStop(_ context.Context, rec journal.StopRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stops = append(j.stops, rec)
	return nil
}

func (j *memJournal) errorCount(kind string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.errors[kind])
}

func (j *memJournal) fillCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.fills)
}

func (j *memJournal) stopCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.stops)
}

// memNotifier records sent messages.
type memNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *memNotifier) Send(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
	return nil
}

func (n *memNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{
		MaxRetry:    3,
		RetryDelay:  time.Millisecond,
		StaleAfter:  10 * time.Millisecond,
		CallTimeout: time.Second,
	}
}

type fixture struct {
	sim      *broker.SimulatorBroker
	book     *PositionBook
	journal  *memJournal
	notifier *memNotifier
	orders   *OrderManager
}

func newFixture(initialCash float64, opts Options) *fixture {
	sim := broker.NewSimulatorBroker()
	book := NewPositionBook(initialCash)
	j := newMemJournal()
	n := &memNotifier{}
	return &fixture{
		sim:      sim,
		book:     book,
		journal:  j,
		notifier: n,
		orders:   NewOrderManager(sim, book, j, n, testLogger(), opts),
	}
}
