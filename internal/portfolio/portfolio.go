// Package portfolio implements the simulated portfolio: virtual balance, open
// positions, and the append-only trade and equity histories.
//
// The portfolio is a single owned aggregate. The trading loop is its only
// writer: decisions are applied asset by asset in sequence, so operations are
// atomic from the loop's point of view. The mutex only guards read access from
// other goroutines (status commands, notifiers).
package portfolio

import (
	"fmt"
	"sync"
	"time"

	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/models"
)

// Portfolio holds the full simulated trading state.
type Portfolio struct {
	mu sync.RWMutex

	balance          float64
	positions        map[string]*models.Position
	tradeHistory     []models.Trade
	equityHistory    []models.EquityPoint
	iterationCounter int64
	tradeCounter     int64
}

// New creates a fresh portfolio with the given starting balance.
func New(startingBalance float64) *Portfolio {
	return &Portfolio{
		balance:   startingBalance,
		positions: make(map[string]*models.Position),
	}
}

// Restore rebuilds a portfolio from a persisted snapshot.
func Restore(snap models.PortfolioSnapshot) *Portfolio {
	p := New(snap.Balance)
	p.iterationCounter = snap.IterationCounter
	for asset := range snap.Positions {
		pos := snap.Positions[asset]
		p.positions[asset] = &pos
	}
	return p
}

// OpenPosition opens a new leveraged position from a validated entry decision.
// Margin (quantity x price) and the entry fee (notional x feeRate) are both
// deducted from the balance up front; the open is rejected with no state
// change when the balance cannot fund them.
func (p *Portfolio) OpenPosition(asset string, dec *models.Decision, currentPrice, feeRate float64) (*models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[asset]; exists {
		return nil, apperrors.NewPositionError(asset, "open", "position already open", apperrors.ErrDuplicatePosition)
	}
	if dec.Signal != models.SignalEntry {
		return nil, apperrors.NewPositionError(asset, "open", fmt.Sprintf("signal %q is not entry", dec.Signal), nil)
	}

	margin := dec.Quantity * currentPrice
	notional := margin * float64(dec.Leverage)
	entryFee := notional * feeRate

	if p.balance < margin+entryFee {
		return nil, apperrors.NewPositionError(asset, "open",
			fmt.Sprintf("need %.4f (margin %.4f + fee %.4f), have %.4f", margin+entryFee, margin, entryFee, p.balance),
			apperrors.ErrInsufficientBalance)
	}

	pos := &models.Position{
		Asset:                 asset,
		Side:                  dec.Side,
		Quantity:              dec.Quantity,
		EntryPrice:            currentPrice,
		ProfitTarget:          dec.ProfitTarget,
		StopLoss:              dec.StopLoss,
		Leverage:              dec.Leverage,
		Confidence:            dec.Confidence,
		Margin:                margin,
		EntryFee:              entryFee,
		InvalidationCondition: dec.InvalidationCondition,
		Justification:         dec.Justification,
		OpenedAt:              time.Now().UTC(),
	}

	p.balance -= margin + entryFee
	p.positions[asset] = pos

	return pos, nil
}

// ClosePosition closes the open position for asset at the given price and
// appends one immutable record to the trade history. The original margin is
// returned to the balance together with the leveraged PnL, minus the exit fee.
func (p *Portfolio) ClosePosition(asset string, currentPrice, feeRate float64, reason models.CloseReason) (*models.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked(asset, currentPrice, feeRate, reason)
}

func (p *Portfolio) closeLocked(asset string, currentPrice, feeRate float64, reason models.CloseReason) (*models.Trade, error) {
	pos, exists := p.positions[asset]
	if !exists {
		return nil, apperrors.NewPositionError(asset, "close", "no open position", apperrors.ErrNoPosition)
	}

	grossPnL := pos.UnrealizedPnL(currentPrice)
	exitValue := pos.Quantity * currentPrice
	exitFee := exitValue * feeRate
	netPnL := grossPnL - exitFee - pos.EntryFee

	now := time.Now().UTC()
	p.tradeCounter++
	trade := models.Trade{
		ID:           fmt.Sprintf("T_%d_%d", now.Unix(), p.tradeCounter),
		Asset:        asset,
		Side:         pos.Side,
		Quantity:     pos.Quantity,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    currentPrice,
		Leverage:     pos.Leverage,
		GrossPnL:     grossPnL,
		NetPnL:       netPnL,
		EntryFee:     pos.EntryFee,
		ExitFee:      exitFee,
		Reason:       reason,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     now,
		HoldDuration: now.Sub(pos.OpenedAt),
	}

	p.balance += pos.Margin + grossPnL - exitFee
	delete(p.positions, asset)
	p.tradeHistory = append(p.tradeHistory, trade)

	return &trade, nil
}

// CheckStopAndTarget closes the asset's position when the price has crossed
// its stop-loss or profit target. When a gap move breaches both levels in one
// check, the stop-loss wins: it is treated as a loss event.
//
// The check runs once per asset per cycle, so price excursions between cycles
// are not caught. That is a documented limitation of the polling design, not
// a bug.
func (p *Portfolio) CheckStopAndTarget(asset string, currentPrice, feeRate float64) (*models.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, exists := p.positions[asset]
	if !exists {
		return nil, nil
	}

	var reason models.CloseReason
	switch pos.Side {
	case models.SideLong:
		if currentPrice <= pos.StopLoss {
			reason = models.CloseReasonStopLoss
		} else if currentPrice >= pos.ProfitTarget {
			reason = models.CloseReasonTarget
		}
	case models.SideShort:
		if currentPrice >= pos.StopLoss {
			reason = models.CloseReasonStopLoss
		} else if currentPrice <= pos.ProfitTarget {
			reason = models.CloseReasonTarget
		}
	}

	if reason == "" {
		return nil, nil
	}
	return p.closeLocked(asset, currentPrice, feeRate, reason)
}

// ApplyResult describes what applying one decision did to the portfolio.
type ApplyResult struct {
	Opened *models.Position
	Closed *models.Trade
}

// ApplyDecision dispatches a validated decision against the per-asset state
// machine: entry opens (rejected while a position is open), close closes with
// reason "ai_close" (no-op while flat), hold changes nothing. Rejections are
// returned as errors; the caller logs them and carries on.
func (p *Portfolio) ApplyDecision(asset string, dec *models.Decision, currentPrice, feeRate float64) (ApplyResult, error) {
	switch dec.Signal {
	case models.SignalEntry:
		pos, err := p.OpenPosition(asset, dec, currentPrice, feeRate)
		if err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Opened: pos}, nil
	case models.SignalClose:
		trade, err := p.ClosePosition(asset, currentPrice, feeRate, models.CloseReasonAI)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNoPosition) {
				return ApplyResult{}, nil
			}
			return ApplyResult{}, err
		}
		return ApplyResult{Closed: trade}, nil
	case models.SignalHold:
		return ApplyResult{}, nil
	default:
		return ApplyResult{}, apperrors.NewPositionError(asset, "apply", fmt.Sprintf("unknown signal %q", dec.Signal), apperrors.ErrUnknownSignal)
	}
}

// Balance returns the available (uncommitted) capital.
func (p *Portfolio) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// Position returns a copy of the open position for asset, if any.
func (p *Portfolio) Position(asset string) (models.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[asset]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of all open positions keyed by asset.
func (p *Portfolio) Positions() map[string]models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.Position, len(p.positions))
	for asset, pos := range p.positions {
		out[asset] = *pos
	}
	return out
}

// Equity returns balance plus the value of all open positions at the given
// prices. A position's value is its margin plus unrealized leveraged PnL; an
// asset with no quoted price contributes its margin only. Leverage can push
// equity negative, the stop-loss mechanism bounds that risk but does not
// guarantee it.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	equity := p.balance
	for asset, pos := range p.positions {
		equity += pos.Margin
		if price, ok := prices[asset]; ok {
			equity += pos.UnrealizedPnL(price)
		}
	}
	return equity
}

// AppendEquityPoint records one (timestamp, equity) snapshot.
func (p *Portfolio) AppendEquityPoint(prices map[string]float64, ts time.Time) models.EquityPoint {
	point := models.EquityPoint{Timestamp: ts, Equity: p.Equity(prices)}
	p.mu.Lock()
	p.equityHistory = append(p.equityHistory, point)
	p.mu.Unlock()
	return point
}

// TradeHistory returns a copy of the closed-trade ledger.
func (p *Portfolio) TradeHistory() []models.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Trade, len(p.tradeHistory))
	copy(out, p.tradeHistory)
	return out
}

// EquityHistory returns a copy of the equity snapshots.
func (p *Portfolio) EquityHistory() []models.EquityPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.EquityPoint, len(p.equityHistory))
	copy(out, p.equityHistory)
	return out
}

// IterationCounter returns the number of completed cycles.
func (p *Portfolio) IterationCounter() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.iterationCounter
}

// IncrementIteration bumps the cycle counter. Called exactly once per cycle,
// whether or not any asset produced a usable decision.
func (p *Portfolio) IncrementIteration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.iterationCounter++
	return p.iterationCounter
}

// Snapshot captures the persistable state: balance, open positions, and the
// iteration counter. Histories are persisted separately as append-only logs.
func (p *Portfolio) Snapshot() models.PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make(map[string]models.Position, len(p.positions))
	for asset, pos := range p.positions {
		positions[asset] = *pos
	}
	return models.PortfolioSnapshot{
		Balance:          p.balance,
		Positions:        positions,
		IterationCounter: p.iterationCounter,
		SavedAt:          time.Now().UTC(),
	}
}
