package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"binance-paper-trader/internal/store"
)

func newHistoryCmd(app *App) *cobra.Command {
	var (
		asset     string
		reason    string
		limit     int
		since     string
		exportCSV bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show closed trades",
		Long:  "List closed trades from the ledger in chronological order. Optionally export to CSV.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("persistent store unavailable")
			}

			filter := store.TradeFilter{
				Asset:  asset,
				Reason: reason,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("parsing --since (want YYYY-MM-DD): %w", err)
				}
				filter.StartDate = t
			}

			trades, err := app.Store.GetTrades(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("loading trades: %w", err)
			}
			// The store returns trades oldest first; keep the most recent N.
			if limit > 0 && len(trades) > limit {
				trades = trades[len(trades)-limit:]
			}

			if exportCSV {
				path := app.Config.Storage.CSVPath
				if err := store.ExportTradesCSV(path, trades); err != nil {
					return fmt.Errorf("exporting CSV: %w", err)
				}
				output.Success("Exported %d trades to %s", len(trades), path)
				return nil
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}

			if len(trades) == 0 {
				output.Dim("No closed trades")
				return nil
			}

			table := NewTable(output, "CLOSED", "ASSET", "SIDE", "QTY", "ENTRY", "EXIT", "LEV", "NET PNL", "REASON")
			for _, t := range trades {
				table.AddRow(
					t.ClosedAt.Format("01-02 15:04"),
					t.Asset,
					string(t.Side),
					fmt.Sprintf("%.8g", t.Quantity),
					fmt.Sprintf("%.8g", t.EntryPrice),
					fmt.Sprintf("%.8g", t.ExitPrice),
					fmt.Sprintf("%dx", t.Leverage),
					output.FormatPnL(t.NetPnL),
					string(t.Reason),
				)
			}
			table.Render()
			output.Println()
			output.Dim("%d trades", len(trades))
			return nil
		},
	}

	cmd.Flags().StringVar(&asset, "asset", "", "filter by asset symbol")
	cmd.Flags().StringVar(&reason, "reason", "", "filter by close reason (ai_close, stop-loss, profit target)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum trades to show (0 = all)")
	cmd.Flags().StringVar(&since, "since", "", "only trades closed on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&exportCSV, "export", false, "export matching trades to the configured CSV path")

	return cmd
}
