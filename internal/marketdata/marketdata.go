// Package marketdata provides market data retrieval for the trading loop.
package marketdata

import (
	"context"

	"binance-paper-trader/internal/models"
)

// Provider fetches the per-asset market context for one cycle. The loop
// treats it as an external collaborator: a failed fetch skips the asset for
// the cycle and never aborts the cycle itself.
type Provider interface {
	// Snapshot returns current price, recent candles and funding context for
	// one asset. Indicators are filled in by the caller.
	Snapshot(ctx context.Context, asset string) (*models.MarketSnapshot, error)
}
