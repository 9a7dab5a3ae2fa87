package store

import (
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"binance-paper-trader/internal/models"
)

// tradeRow is the flat CSV shape of one closed trade, consumed by the
// dashboard collaborator.
type tradeRow struct {
	ID         string  `csv:"id"`
	Asset      string  `csv:"asset"`
	Side       string  `csv:"side"`
	Quantity   float64 `csv:"quantity"`
	EntryPrice float64 `csv:"entry_price"`
	ExitPrice  float64 `csv:"exit_price"`
	Leverage   int     `csv:"leverage"`
	GrossPnL   float64 `csv:"gross_pnl"`
	NetPnL     float64 `csv:"net_pnl"`
	EntryFee   float64 `csv:"entry_fee"`
	ExitFee    float64 `csv:"exit_fee"`
	Reason     string  `csv:"reason"`
	OpenedAt   string  `csv:"opened_at"`
	ClosedAt   string  `csv:"closed_at"`
	HoldSecs   int64   `csv:"hold_seconds"`
}

// ExportTradesCSV rewrites the trade ledger CSV from the given trades. The
// write goes to a temp file first and is renamed into place so a reader never
// sees a truncated file.
func ExportTradesCSV(path string, trades []models.Trade) error {
	rows := make([]tradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, tradeRow{
			ID:         t.ID,
			Asset:      t.Asset,
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Leverage:   t.Leverage,
			GrossPnL:   t.GrossPnL,
			NetPnL:     t.NetPnL,
			EntryFee:   t.EntryFee,
			ExitFee:    t.ExitFee,
			Reason:     string(t.Reason),
			OpenedAt:   t.OpenedAt.Format(time.RFC3339),
			ClosedAt:   t.ClosedAt.Format(time.RFC3339),
			HoldSecs:   int64(t.HoldDuration.Seconds()),
		})
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating csv temp file: %w", err)
	}

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing trades csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing trades csv: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing trades csv: %w", err)
	}
	return nil
}
