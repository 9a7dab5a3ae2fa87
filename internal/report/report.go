// Package report derives risk-adjusted return metrics from the trade ledger
// and equity history. It is a read-only consumer of persisted records.
package report

import (
	"math"
	"time"

	"binance-paper-trader/internal/models"
)

// Metrics holds the performance summary for a set of closed trades.
//
// Sortino and Sharpe are math.NaN() when undefined: Sharpe needs at least two
// closed trades, Sortino additionally needs at least one return below the
// risk-free hurdle (no downside means the ratio has no denominator).
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalNetPnL   float64
	TotalFees     float64
	AvgReturn     float64
	ProfitFactor  float64
	Sharpe        float64
	Sortino       float64
	MaxDrawdown   float64
	FinalEquity   float64
}

// Calculator computes metrics against a configured annual risk-free rate.
type Calculator struct {
	riskFreeRate float64 // annual
}

// NewCalculator creates a metrics calculator.
func NewCalculator(riskFreeRate float64) *Calculator {
	return &Calculator{riskFreeRate: riskFreeRate}
}

// Compute derives metrics from closed trades and equity snapshots.
func (c *Calculator) Compute(trades []models.Trade, equity []models.EquityPoint) Metrics {
	m := Metrics{
		TotalTrades: len(trades),
		Sharpe:      math.NaN(),
		Sortino:     math.NaN(),
	}

	var grossProfit, grossLoss float64
	returns := make([]float64, 0, len(trades))
	var totalHold time.Duration

	for _, t := range trades {
		m.TotalNetPnL += t.NetPnL
		m.TotalFees += t.EntryFee + t.ExitFee
		totalHold += t.HoldDuration
		returns = append(returns, t.Return())

		if t.NetPnL > 0 {
			m.WinningTrades++
			grossProfit += t.NetPnL
		} else {
			m.LosingTrades++
			grossLoss += -t.NetPnL
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AvgReturn = meanOf(returns)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	if len(equity) > 0 {
		m.FinalEquity = equity[len(equity)-1].Equity
		m.MaxDrawdown = maxDrawdown(equity)
	}

	if m.TotalTrades >= 2 {
		hurdle := c.perTradeHurdle(totalHold, m.TotalTrades)
		m.Sharpe = sharpeRatio(returns, hurdle)
		m.Sortino = sortinoRatio(returns, hurdle)
	}

	return m
}

// perTradeHurdle scales the annual risk-free rate down to the average holding
// period, so per-trade returns are compared against a like-for-like hurdle.
func (c *Calculator) perTradeHurdle(totalHold time.Duration, trades int) float64 {
	if trades == 0 {
		return 0
	}
	avgHold := totalHold / time.Duration(trades)
	years := avgHold.Hours() / (24 * 365)
	return c.riskFreeRate * years
}

// sharpeRatio is mean excess return over its standard deviation. NaN when the
// returns have no variance.
func sharpeRatio(returns []float64, hurdle float64) float64 {
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - hurdle
	}
	sd := stdDevOf(excess)
	if sd == 0 {
		return math.NaN()
	}
	return meanOf(excess) / sd
}

// sortinoRatio penalizes only downside deviation: the std of returns below
// the hurdle. NaN when no return falls below it.
func sortinoRatio(returns []float64, hurdle float64) float64 {
	var sumSq float64
	var downside int
	for _, r := range returns {
		if r < hurdle {
			d := r - hurdle
			sumSq += d * d
			downside++
		}
	}
	if downside == 0 {
		return math.NaN()
	}
	// Downside deviation uses the full sample count, per the standard
	// definition.
	dd := math.Sqrt(sumSq / float64(len(returns)))
	if dd == 0 {
		return math.NaN()
	}
	return (meanOf(returns) - hurdle) / dd
}

// maxDrawdown is the largest peak-to-trough equity decline, as a fraction of
// the peak.
func maxDrawdown(equity []models.EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0].Equity
	maxDD := 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDevOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := meanOf(values)
	var variance float64
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
