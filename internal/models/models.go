// Package models provides domain models for the paper trading application.
package models

import (
	"time"
)

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Signal represents an AI trading signal.
type Signal string

const (
	SignalEntry Signal = "entry"
	SignalClose Signal = "close"
	SignalHold  Signal = "hold"
)

// Valid reports whether the signal is one of the known values.
func (s Signal) Valid() bool {
	return s == SignalEntry || s == SignalClose || s == SignalHold
}

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonAI       CloseReason = "ai_close"
	CloseReasonStopLoss CloseReason = "stop-loss"
	CloseReasonTarget   CloseReason = "profit target"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketSnapshot holds everything the loop knows about one asset for one cycle.
type MarketSnapshot struct {
	Asset        string
	Price        float64
	Candles      []Candle
	Indicators   map[string]float64
	FundingRate  float64
	OpenInterest float64
	Timestamp    time.Time
}

// Decision is a validated per-asset trading decision.
// Side, Quantity, ProfitTarget, StopLoss and Leverage are only meaningful
// when Signal == SignalEntry.
type Decision struct {
	Asset                 string
	Signal                Signal
	Side                  Side
	Quantity              float64
	ProfitTarget          float64
	StopLoss              float64
	Leverage              int
	Confidence            float64
	InvalidationCondition string
	Justification         string
	Timestamp             time.Time
}

// Position represents one open leveraged position. At most one exists per asset.
type Position struct {
	Asset                 string
	Side                  Side
	Quantity              float64
	EntryPrice            float64
	ProfitTarget          float64
	StopLoss              float64
	Leverage              int
	Confidence            float64
	Margin                float64 // unlevered cost basis set aside at open, returned at close
	EntryFee              float64 // already deducted from balance at open time
	InvalidationCondition string
	Justification         string
	OpenedAt              time.Time
}

// UnrealizedPnL returns the direction-adjusted leveraged PnL at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity * float64(p.Leverage)
	}
	return (price - p.EntryPrice) * p.Quantity * float64(p.Leverage)
}

// Notional returns the leveraged exposure value at entry.
func (p *Position) Notional() float64 {
	return p.Quantity * p.EntryPrice * float64(p.Leverage)
}

// Trade represents a completed (closed) trade. Records are immutable once written.
type Trade struct {
	ID           string
	Asset        string
	Side         Side
	Quantity     float64
	EntryPrice   float64
	ExitPrice    float64
	Leverage     int
	GrossPnL     float64
	NetPnL       float64
	EntryFee     float64
	ExitFee      float64
	Reason       CloseReason
	OpenedAt     time.Time
	ClosedAt     time.Time
	HoldDuration time.Duration
}

// Return is the trade's net PnL relative to the margin it tied up.
func (t *Trade) Return() float64 {
	margin := t.Quantity * t.EntryPrice
	if margin == 0 {
		return 0
	}
	return t.NetPnL / margin
}

// EquityPoint is one (timestamp, equity) snapshot of the portfolio.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// PortfolioSnapshot is the persisted portfolio state restored across restarts.
type PortfolioSnapshot struct {
	Balance          float64
	Positions        map[string]Position
	IterationCounter int64
	SavedAt          time.Time
}
