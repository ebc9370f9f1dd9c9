package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"krx-trader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ TradeJournal = (*SQLiteJournal)(nil)

// SQLiteJournal persists journal records in a SQLite database. The tables
// are append-only; the daily summary reads them back by date.
type SQLiteJournal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id        TEXT NOT NULL,
	broker_order_id TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             INTEGER NOT NULL,
	price           REAL NOT NULL,
	realized_pnl    REAL NOT NULL,
	cash_after      REAL NOT NULL,
	at              TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS errors (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	kind    TEXT NOT NULL,
	message TEXT NOT NULL,
	at      TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS emergency_stops (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	reason       TEXT NOT NULL,
	total_equity REAL NOT NULL,
	positions    TEXT NOT NULL,
	at           TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_at ON fills(at);
CREATE INDEX IF NOT EXISTS idx_errors_at ON errors(at);
`

// NewSQLiteJournal opens (or creates) the journal database at dbPath and
// ensures the schema exists.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// RecordFill appends one fill record.
func (j *SQLiteJournal) RecordFill(ctx context.Context, rec FillRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, broker_order_id, symbol, side, qty, price, realized_pnl, cash_after, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, rec.BrokerOrderID, rec.Symbol, string(rec.Side),
		rec.Qty, rec.Price, rec.RealizedPnL, rec.CashAfter, rec.At.UTC())
	return err
}

// RecordError appends one error record.
func (j *SQLiteJournal) RecordError(ctx context.Context, kind, message string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO errors (kind, message, at) VALUES (?, ?, ?)`,
		kind, message, time.Now().UTC())
	return err
}

// RecordEmergencyStop appends one emergency-stop record. Position lines are
// stored as JSON.
func (j *SQLiteJournal) RecordEmergencyStop(ctx context.Context, rec StopRecord) error {
	positions, err := json.Marshal(rec.Positions)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO emergency_stops (reason, total_equity, positions, at) VALUES (?, ?, ?, ?)`,
		rec.Reason, rec.TotalEquity, string(positions), rec.At.UTC())
	return err
}

// ---------------------------------------------------------------------------
// Read side — daily summary queries
// ---------------------------------------------------------------------------

// FillsOn returns all fill records for the calendar day containing t (UTC),
// ordered by time.
func (j *SQLiteJournal) FillsOn(ctx context.Context, t time.Time) ([]FillRecord, error) {
	start, end := dayBounds(t)
	rows, err := j.db.QueryContext(ctx,
		`SELECT order_id, broker_order_id, symbol, side, qty, price, realized_pnl, cash_after, at
		 FROM fills WHERE at >= ? AND at < ? ORDER BY at`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var rec FillRecord
		var side string
		if err := rows.Scan(&rec.OrderID, &rec.BrokerOrderID, &rec.Symbol, &side,
			&rec.Qty, &rec.Price, &rec.RealizedPnL, &rec.CashAfter, &rec.At); err != nil {
			return nil, err
		}
		rec.Side = domain.OrderSide(side)
		fills = append(fills, rec)
	}
	return fills, rows.Err()
}

// ErrorCountsOn returns error counts by kind for the calendar day
// containing t (UTC).
func (j *SQLiteJournal) ErrorCountsOn(ctx context.Context, t time.Time) (map[string]int, error) {
	start, end := dayBounds(t)
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM errors WHERE at >= ? AND at < ? GROUP BY kind`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// StopsOn returns emergency-stop records for the calendar day containing t.
func (j *SQLiteJournal) StopsOn(ctx context.Context, t time.Time) ([]StopRecord, error) {
	start, end := dayBounds(t)
	rows, err := j.db.QueryContext(ctx,
		`SELECT reason, total_equity, positions, at FROM emergency_stops
		 WHERE at >= ? AND at < ? ORDER BY at`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []StopRecord
	for rows.Next() {
		var rec StopRecord
		var positions string
		if err := rows.Scan(&rec.Reason, &rec.TotalEquity, &positions, &rec.At); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(positions), &rec.Positions); err != nil {
			return nil, err
		}
		stops = append(stops, rec)
	}
	return stops, rows.Err()
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
