package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current portfolio state",
		Long:  "Show the persisted balance, open positions, and iteration counter.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("persistent store unavailable")
			}

			snap, found, err := app.Store.LoadSnapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading snapshot: %w", err)
			}
			if !found {
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"initialized": false})
				}
				output.Warning("No saved state. Run 'papertrader run' to start trading.")
				return nil
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}

			output.Bold("Portfolio Status")
			output.Printf("  Balance:    %.4f USDT\n", snap.Balance)
			output.Printf("  Iterations: %d\n", snap.IterationCounter)
			output.Printf("  Saved at:   %s\n", snap.SavedAt.Format("2006-01-02 15:04:05 MST"))
			output.Println()

			if len(snap.Positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			assets := make([]string, 0, len(snap.Positions))
			for asset := range snap.Positions {
				assets = append(assets, asset)
			}
			sort.Strings(assets)

			table := NewTable(output, "ASSET", "SIDE", "QTY", "ENTRY", "STOP", "TARGET", "LEV", "MARGIN")
			for _, asset := range assets {
				pos := snap.Positions[asset]
				table.AddRow(
					pos.Asset,
					string(pos.Side),
					fmt.Sprintf("%.8g", pos.Quantity),
					fmt.Sprintf("%.8g", pos.EntryPrice),
					fmt.Sprintf("%.8g", pos.StopLoss),
					fmt.Sprintf("%.8g", pos.ProfitTarget),
					fmt.Sprintf("%dx", pos.Leverage),
					fmt.Sprintf("%.4f", pos.Margin),
				)
			}
			table.Render()
			return nil
		},
	}
}
