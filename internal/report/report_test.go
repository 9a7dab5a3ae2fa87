package report

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-paper-trader/internal/models"
)

func trade(netPnL float64) models.Trade {
	// qty 1 at entry 1000 gives margin 1000, so Return() = netPnL / 1000.
	return models.Trade{
		Asset:        "BTCUSDT",
		Side:         models.SideLong,
		Quantity:     1,
		EntryPrice:   1000,
		NetPnL:       netPnL,
		EntryFee:     1,
		ExitFee:      1,
		HoldDuration: time.Hour,
	}
}

func TestComputeBasicCounts(t *testing.T) {
	calc := NewCalculator(0)

	m := calc.Compute([]models.Trade{trade(100), trade(-50)}, nil)

	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-12)
	assert.InDelta(t, 50.0, m.TotalNetPnL, 1e-12)
	assert.InDelta(t, 4.0, m.TotalFees, 1e-12)
	assert.InDelta(t, 2.0, m.ProfitFactor, 1e-12)
}

func TestComputeRiskRatios(t *testing.T) {
	calc := NewCalculator(0)

	// Returns 0.1 and -0.05, mean 0.025.
	m := calc.Compute([]models.Trade{trade(100), trade(-50)}, nil)

	// Sharpe: population std of [0.1, -0.05] is 0.075.
	require.False(t, math.IsNaN(m.Sharpe))
	assert.InDelta(t, 0.025/0.075, m.Sharpe, 1e-9)

	// Sortino: downside deviation sqrt(0.05^2 / 2).
	require.False(t, math.IsNaN(m.Sortino))
	dd := math.Sqrt(0.0025 / 2)
	assert.InDelta(t, 0.025/dd, m.Sortino, 1e-9)
}

func TestSortinoUndefinedWithoutDownside(t *testing.T) {
	calc := NewCalculator(0)

	m := calc.Compute([]models.Trade{trade(100), trade(200)}, nil)

	assert.True(t, math.IsNaN(m.Sortino), "no losing trade, Sortino must be undefined")
	assert.True(t, math.IsInf(m.ProfitFactor, 1))
}

func TestRatiosUndefinedBelowTwoTrades(t *testing.T) {
	calc := NewCalculator(0.04)

	m := calc.Compute([]models.Trade{trade(100)}, nil)
	assert.True(t, math.IsNaN(m.Sharpe))
	assert.True(t, math.IsNaN(m.Sortino))

	m = calc.Compute(nil, nil)
	assert.Equal(t, 0, m.TotalTrades)
	assert.True(t, math.IsNaN(m.Sharpe))
	assert.True(t, math.IsNaN(m.Sortino))
	assert.Zero(t, m.WinRate)
}

func TestSharpeUndefinedWithZeroVariance(t *testing.T) {
	calc := NewCalculator(0)

	m := calc.Compute([]models.Trade{trade(100), trade(100)}, nil)
	assert.True(t, math.IsNaN(m.Sharpe), "identical returns have no variance")
}

func TestRiskFreeHurdleScalesWithHoldDuration(t *testing.T) {
	calc := NewCalculator(0.04)

	// Two trades held a year each: the per-trade hurdle is the full 4%.
	year := 365 * 24 * time.Hour
	a := trade(100)
	a.HoldDuration = year
	b := trade(200)
	b.HoldDuration = year

	// Returns 0.1 and 0.2 both beat the 0.04 hurdle, so no downside exists.
	m := calc.Compute([]models.Trade{a, b}, nil)
	assert.True(t, math.IsNaN(m.Sortino))
	assert.InDelta(t, (0.15-0.04)/0.05, m.Sharpe, 1e-6)
}

func TestMaxDrawdown(t *testing.T) {
	calc := NewCalculator(0)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	equity := []models.EquityPoint{
		{Timestamp: base, Equity: 100},
		{Timestamp: base.Add(time.Hour), Equity: 120},
		{Timestamp: base.Add(2 * time.Hour), Equity: 90},
		{Timestamp: base.Add(3 * time.Hour), Equity: 110},
	}

	m := calc.Compute(nil, equity)

	// Peak 120 down to 90 is a 25% drawdown.
	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 110.0, m.FinalEquity, 1e-12)
}

func TestMaxDrawdownMonotoneRiseIsZero(t *testing.T) {
	calc := NewCalculator(0)

	base := time.Now()
	equity := []models.EquityPoint{
		{Timestamp: base, Equity: 100},
		{Timestamp: base.Add(time.Hour), Equity: 150},
		{Timestamp: base.Add(2 * time.Hour), Equity: 200},
	}

	m := calc.Compute(nil, equity)
	assert.Zero(t, m.MaxDrawdown)
}
