package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"binance-paper-trader/internal/report"
	"binance-paper-trader/internal/store"
)

func newReportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show performance metrics",
		Long: `Compute risk-adjusted performance metrics from the closed-trade ledger
and equity history: win rate, profit factor, Sharpe, Sortino, max drawdown.

Sharpe and Sortino are shown as "undefined" when there are fewer than two
closed trades, or, for Sortino, when no trade lost money.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("persistent store unavailable")
			}
			ctx := cmd.Context()

			trades, err := app.Store.GetTrades(ctx, store.TradeFilter{})
			if err != nil {
				return fmt.Errorf("loading trades: %w", err)
			}
			equity, err := app.Store.GetEquityHistory(ctx, time.Time{})
			if err != nil {
				return fmt.Errorf("loading equity history: %w", err)
			}

			calc := report.NewCalculator(app.Config.Trading.RiskFreeRate)
			m := calc.Compute(trades, equity)

			if output.IsJSON() {
				return output.JSON(metricsJSON(m))
			}

			output.Bold("Performance Report")
			output.Printf("  Total trades:  %d (%d wins, %d losses)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
			output.Printf("  Win rate:      %.1f%%\n", m.WinRate*100)
			output.Printf("  Net PnL:       %s\n", output.FormatPnL(m.TotalNetPnL))
			output.Printf("  Total fees:    %.4f USDT\n", m.TotalFees)
			output.Printf("  Avg return:    %s\n", output.FormatPercent(m.AvgReturn*100))
			output.Printf("  Profit factor: %s\n", formatRatio(m.ProfitFactor))
			output.Println()

			output.Bold("Risk-Adjusted")
			output.Printf("  Sharpe ratio:  %s\n", formatRatio(m.Sharpe))
			output.Printf("  Sortino ratio: %s\n", formatRatio(m.Sortino))
			output.Printf("  Max drawdown:  %.2f%%\n", m.MaxDrawdown*100)
			if m.FinalEquity > 0 {
				output.Printf("  Final equity:  %.4f USDT\n", m.FinalEquity)
			}
			return nil
		},
	}
	return cmd
}

// formatRatio renders a ratio, or "undefined" when it cannot be computed.
func formatRatio(v float64) string {
	if math.IsNaN(v) {
		return "undefined"
	}
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", v)
}

// metricsJSON converts metrics to a JSON-safe shape. NaN has no JSON
// representation, so undefined ratios become null.
func metricsJSON(m report.Metrics) map[string]interface{} {
	out := map[string]interface{}{
		"total_trades":   m.TotalTrades,
		"winning_trades": m.WinningTrades,
		"losing_trades":  m.LosingTrades,
		"win_rate":       m.WinRate,
		"total_net_pnl":  m.TotalNetPnL,
		"total_fees":     m.TotalFees,
		"avg_return":     m.AvgReturn,
		"max_drawdown":   m.MaxDrawdown,
		"final_equity":   m.FinalEquity,
	}
	out["profit_factor"] = jsonRatio(m.ProfitFactor)
	out["sharpe"] = jsonRatio(m.Sharpe)
	out["sortino"] = jsonRatio(m.Sortino)
	return out
}

func jsonRatio(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
