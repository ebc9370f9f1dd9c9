package journal

import (
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"krx-trader/internal/domain"
)

// fillParquetRecord is the on-disk schema for exported fills.
type fillParquetRecord struct {
	OrderID       string  `parquet:"order_id"`
	BrokerOrderID string  `parquet:"broker_order_id"`
	Symbol        string  `parquet:"symbol"`
	Side          string  `parquet:"side"`
	Qty           int64   `parquet:"qty"`
	Price         float64 `parquet:"price"`
	RealizedPnL   float64 `parquet:"realized_pnl"`
	CashAfter     float64 `parquet:"cash_after"`
	At            int64   `parquet:"at,timestamp(millisecond)"` // Unix ms
}

// FillExportPath returns the export location for a day's fills.
// Layout: <dataDir>/fills/<YYYY-MM-DD>.parquet
func FillExportPath(dataDir string, day time.Time) string {
	return filepath.Join(dataDir, "fills", day.UTC().Format("2006-01-02")+".parquet")
}

// ExportFills writes the given fills to the day's Parquet file, replacing
// any previous export for that day. It returns the written path.
func ExportFills(dataDir string, day time.Time, fills []FillRecord) (string, error) {
	records := make([]fillParquetRecord, 0, len(fills))
	for _, f := range fills {
		records = append(records, fillParquetRecord{
			OrderID:       f.OrderID,
			BrokerOrderID: f.BrokerOrderID,
			Symbol:        f.Symbol,
			Side:          string(f.Side),
			Qty:           f.Qty,
			Price:         f.Price,
			RealizedPnL:   f.RealizedPnL,
			CashAfter:     f.CashAfter,
			At:            f.At.UnixMilli(),
		})
	}

	path := FillExportPath(dataDir, day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return "", err
	}
	return path, nil
}

// ReadExportedFills reads a day's exported fills back from Parquet.
func ReadExportedFills(dataDir string, day time.Time) ([]FillRecord, error) {
	records, err := parquet.ReadFile[fillParquetRecord](FillExportPath(dataDir, day))
	if err != nil {
		return nil, err
	}

	fills := make([]FillRecord, 0, len(records))
	for _, r := range records {
		fills = append(fills, FillRecord{
			OrderID:       r.OrderID,
			BrokerOrderID: r.BrokerOrderID,
			Symbol:        r.Symbol,
			Side:          domain.OrderSide(r.Side),
			Qty:           r.Qty,
			Price:         r.Price,
			RealizedPnL:   r.RealizedPnL,
			CashAfter:     r.CashAfter,
			At:            time.UnixMilli(r.At).UTC(),
		})
	}
	return fills, nil
}
