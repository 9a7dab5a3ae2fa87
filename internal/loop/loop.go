// Package loop runs the iterative paper trading cycle: fetch market context,
// obtain one AI decision per asset, validate it, apply it to the portfolio,
// enforce stop-loss and profit-target levels, and persist state.
//
// Per-asset failures never abort a cycle: a failed fetch, advisor call, or
// validation collapses to an implicit hold for that asset and the cycle
// continues. The one loud failure is persistence. If state cannot be saved
// after retries the loop halts rather than silently drift from disk.
package loop

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"binance-paper-trader/internal/agents"
	"binance-paper-trader/internal/analysis/indicators"
	"binance-paper-trader/internal/config"
	"binance-paper-trader/internal/decision"
	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/logging"
	"binance-paper-trader/internal/marketdata"
	"binance-paper-trader/internal/models"
	"binance-paper-trader/internal/notify"
	"binance-paper-trader/internal/portfolio"
	"binance-paper-trader/internal/store"
	"binance-paper-trader/pkg/utils"
)

// DecisionSource produces one raw, untrusted decision mapping per asset.
type DecisionSource interface {
	Decide(ctx context.Context, snap *models.MarketSnapshot, pctx agents.PortfolioContext) (map[string]interface{}, error)
}

// Loop orchestrates the trading cycle across all configured assets.
type Loop struct {
	cfg       config.TradingConfig
	provider  marketdata.Provider
	engine    *indicators.Engine
	advisor   DecisionSource
	validator *decision.Validator
	pf        *portfolio.Portfolio
	db        store.DataStore
	notifier  notify.Notifier
	logger    zerolog.Logger
	retry     utils.RetryConfig
	csvPath   string
}

// New wires a trading loop from its collaborators.
func New(
	cfg config.TradingConfig,
	provider marketdata.Provider,
	engine *indicators.Engine,
	advisor DecisionSource,
	validator *decision.Validator,
	pf *portfolio.Portfolio,
	db store.DataStore,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *Loop {
	return &Loop{
		cfg:       cfg,
		provider:  provider,
		engine:    engine,
		advisor:   advisor,
		validator: validator,
		pf:        pf,
		db:        db,
		notifier:  notifier,
		logger:    logger,
		retry:     utils.DefaultRetryConfig(),
	}
}

// EnableCSVExport mirrors the full trade ledger to a CSV file at path after
// every recorded close.
func (l *Loop) EnableCSVExport(path string) {
	l.csvPath = path
}

// Run executes cycles on the configured interval until the context is
// cancelled, then persists final state. A persistence failure halts the loop
// with an error.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Strs("assets", l.cfg.Assets).
		Dur("interval", l.cfg.Interval).
		Float64("balance", l.pf.Balance()).
		Msg("Trading loop started")

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := l.RunCycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-ticker.C:
		}
	}
}

// RunBounded executes exactly cycles iterations, then persists and returns.
func (l *Loop) RunBounded(ctx context.Context, cycles int) error {
	for i := 0; i < cycles; i++ {
		select {
		case <-ctx.Done():
			return l.shutdown()
		default:
		}
		if err := l.RunCycle(ctx); err != nil {
			return err
		}
		if i < cycles-1 {
			select {
			case <-ctx.Done():
				return l.shutdown()
			case <-time.After(l.cfg.Interval):
			}
		}
	}
	return l.shutdown()
}

func (l *Loop) shutdown() error {
	l.logger.Info().Msg("Shutting down, persisting final state")
	// Use a fresh context: the loop's own context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.persistSnapshot(ctx); err != nil {
		return err
	}
	return nil
}

// RunCycle executes one full cycle: snapshot every asset concurrently, then
// apply decisions sequentially in stable asset order, record an equity point,
// persist, and bump the iteration counter. The counter advances exactly once
// per cycle no matter what the cycle produced.
func (l *Loop) RunCycle(ctx context.Context) error {
	cycle := l.pf.IterationCounter() + 1
	logger := logging.WithCycle(l.logger, cycle)
	logger.Debug().Msg("Cycle started")

	snapshots := l.fetchSnapshots(ctx, logger)

	// Sequential apply keeps the portfolio single-writer. Sorted order makes
	// replays deterministic regardless of fetch completion order.
	assets := make([]string, len(l.cfg.Assets))
	copy(assets, l.cfg.Assets)
	sort.Strings(assets)

	prices := make(map[string]float64, len(snapshots))
	for _, asset := range assets {
		snap, ok := snapshots[asset]
		if !ok {
			// No market data means no decision and no stop check for this
			// asset. The position, if any, is untouched this cycle.
			continue
		}
		prices[asset] = snap.Price
		l.processAsset(ctx, logger, asset, snap)
	}

	point := l.pf.AppendEquityPoint(prices, time.Now().UTC())
	l.pf.IncrementIteration()

	if err := l.persistCycle(ctx, point); err != nil {
		return err
	}

	logger.Info().
		Float64("equity", point.Equity).
		Float64("balance", l.pf.Balance()).
		Int("open_positions", len(l.pf.Positions())).
		Msg("Cycle complete")
	return nil
}

// fetchSnapshots pulls market data for all assets concurrently. Indicator
// values are computed here so the decision stage sees a complete snapshot.
// A failed asset is simply absent from the result.
func (l *Loop) fetchSnapshots(ctx context.Context, logger zerolog.Logger) map[string]*models.MarketSnapshot {
	type result struct {
		asset string
		snap  *models.MarketSnapshot
		err   error
	}

	results := make(chan result, len(l.cfg.Assets))
	for _, asset := range l.cfg.Assets {
		go func(asset string) {
			snap, err := l.provider.Snapshot(ctx, asset)
			if err == nil && len(snap.Candles) > 0 {
				if values, ierr := l.engine.LatestValues(ctx, snap.Candles); ierr == nil {
					snap.Indicators = values
				}
			}
			results <- result{asset: asset, snap: snap, err: err}
		}(asset)
	}

	snapshots := make(map[string]*models.MarketSnapshot, len(l.cfg.Assets))
	for range l.cfg.Assets {
		r := <-results
		if r.err != nil {
			alog := logging.WithAsset(logger, r.asset)
			alog.Warn().Err(r.err).Msg("Market data fetch failed, holding")
			continue
		}
		snapshots[r.asset] = r.snap
	}
	return snapshots
}

// processAsset runs the decide/validate/apply/stop-check pipeline for one
// asset. Every failure short of a portfolio bug degrades to a hold.
func (l *Loop) processAsset(ctx context.Context, logger zerolog.Logger, asset string, snap *models.MarketSnapshot) {
	alog := logging.WithAsset(logger, asset)

	dec := l.decide(ctx, alog, asset, snap)
	logging.LogDecision(alog, asset, string(dec.Signal), dec.Confidence, dec.Justification)

	result, err := l.pf.ApplyDecision(asset, dec, snap.Price, l.cfg.FeeRate)
	if err != nil {
		// Rejected entries (duplicate position, insufficient balance) are
		// normal operation, not faults.
		alog.Warn().Err(err).Msg("Decision rejected")
	}
	if result.Opened != nil {
		logging.LogOpen(alog, asset, string(result.Opened.Side), result.Opened.Quantity, result.Opened.EntryPrice, result.Opened.Leverage)
		if nerr := l.notifier.SendOpen(ctx, result.Opened); nerr != nil {
			alog.Warn().Err(nerr).Msg("Open notification failed")
		}
	}
	if result.Closed != nil {
		l.recordClose(ctx, alog, result.Closed)
	}

	// Stop and target levels are enforced after the decision so an ai_close
	// is not double-closed, and a fresh entry is immediately protected.
	trade, err := l.pf.CheckStopAndTarget(asset, snap.Price, l.cfg.FeeRate)
	if err != nil {
		alog.Error().Err(err).Msg("Stop/target check failed")
		return
	}
	if trade != nil {
		l.recordClose(ctx, alog, trade)
	}
}

// decide obtains and validates the AI decision for one asset, substituting an
// implicit hold when the collaborator fails or the payload is rejected.
func (l *Loop) decide(ctx context.Context, alog zerolog.Logger, asset string, snap *models.MarketSnapshot) *models.Decision {
	pctx := agents.PortfolioContext{Balance: l.pf.Balance()}
	if pos, ok := l.pf.Position(asset); ok {
		pctx.Position = &pos
	}

	raw, err := l.advisor.Decide(ctx, snap, pctx)
	if err != nil {
		alog.Warn().Err(err).Msg("Advisor unavailable, holding")
		return decision.Hold(asset, "advisor unavailable")
	}

	dec, err := l.validator.Validate(asset, raw, snap.Price)
	if err != nil {
		alog.Warn().Err(err).Msg("Decision invalid, holding")
		return decision.Hold(asset, "decision rejected: "+err.Error())
	}
	return dec
}

// recordClose logs, persists, and announces one closed trade. The trade is
// already committed to the in-memory ledger; a failed append here is retried
// and then surfaced through the next snapshot persist.
func (l *Loop) recordClose(ctx context.Context, alog zerolog.Logger, trade *models.Trade) {
	logging.LogClose(alog, trade.Asset, string(trade.Reason), trade.NetPnL, l.pf.Balance())

	err := utils.Retry(ctx, l.retry, func() error {
		return l.db.AppendTrade(ctx, *trade)
	})
	if err != nil {
		alog.Error().Err(err).Str("trade_id", trade.ID).Msg("Trade persist failed")
	}

	if nerr := l.notifier.SendTrade(ctx, trade); nerr != nil {
		alog.Warn().Err(nerr).Msg("Trade notification failed")
	}

	if l.csvPath != "" {
		if cerr := l.exportLedgerCSV(ctx); cerr != nil {
			alog.Warn().Err(cerr).Str("path", l.csvPath).Msg("CSV export failed")
		}
	}
}

// exportLedgerCSV rewrites the CSV mirror from the persisted ledger so it
// covers trades from earlier runs, not just this process.
func (l *Loop) exportLedgerCSV(ctx context.Context) error {
	trades, err := l.db.GetTrades(ctx, store.TradeFilter{})
	if err != nil {
		return err
	}
	return store.ExportTradesCSV(l.csvPath, trades)
}

// persistCycle saves the cycle's equity point and the portfolio snapshot.
// Both are retried; a final failure halts the loop.
func (l *Loop) persistCycle(ctx context.Context, point models.EquityPoint) error {
	err := utils.Retry(ctx, l.retry, func() error {
		return l.db.AppendEquityPoint(ctx, point)
	})
	if err != nil {
		return l.persistFailure(ctx, "equity", err)
	}
	return l.persistSnapshot(ctx)
}

func (l *Loop) persistSnapshot(ctx context.Context) error {
	snap := l.pf.Snapshot()
	err := utils.Retry(ctx, l.retry, func() error {
		return l.db.SaveSnapshot(ctx, snap)
	})
	if err != nil {
		return l.persistFailure(ctx, "snapshot", err)
	}
	return nil
}

func (l *Loop) persistFailure(ctx context.Context, what string, err error) error {
	wrapped := apperrors.Wrapf(apperrors.ErrPersistenceFailed, "persisting %s: %v", what, err)
	l.logger.Error().Err(err).Str("target", what).Msg("Persistence failed, halting loop")
	if nerr := l.notifier.SendError(ctx, wrapped, "persistence"); nerr != nil {
		l.logger.Warn().Err(nerr).Msg("Error notification failed")
	}
	return wrapped
}
