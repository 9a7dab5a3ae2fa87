// Package store provides data persistence for the trading loop.
package store

import (
	"context"
	"time"

	"binance-paper-trader/internal/models"
)

// DataStore defines the persistence operations the trading loop needs.
type DataStore interface {
	// Portfolio snapshot. Load reports found=false on a fresh database; the
	// caller then starts from the configured balance. Save is transactional:
	// no reader ever observes a half-written snapshot.
	SaveSnapshot(ctx context.Context, snap models.PortfolioSnapshot) error
	LoadSnapshot(ctx context.Context) (models.PortfolioSnapshot, bool, error)

	// Append-only trade ledger. Records are never rewritten.
	AppendTrade(ctx context.Context, trade models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Append-only equity history.
	AppendEquityPoint(ctx context.Context, point models.EquityPoint) error
	GetEquityHistory(ctx context.Context, since time.Time) ([]models.EquityPoint, error)

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Asset     string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	Limit     int
}
