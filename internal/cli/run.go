package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"binance-paper-trader/internal/agents"
	"binance-paper-trader/internal/analysis/indicators"
	"binance-paper-trader/internal/decision"
	"binance-paper-trader/internal/loop"
	"binance-paper-trader/internal/portfolio"
)

func newRunCmd(app *App) *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the paper trading loop",
		Long: `Run the iterative paper trading loop against live Binance market data.

The loop restores the previous portfolio state from disk when present,
otherwise it starts from the configured balance. Interrupt with Ctrl-C;
state is persisted before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("persistent store unavailable, cannot run")
			}
			if err := app.Config.RequireLLMCredentials(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pf, err := restoreOrCreatePortfolio(ctx, app)
			if err != nil {
				return err
			}

			advisor := agents.NewAdvisor(app.LLMClient, app.Config.Trading.MaxLeverage, app.Config.LLM.MaxAttempts)
			validator := decision.NewValidator(app.Config.Trading.MaxLeverage)
			engine := indicators.NewDefaultEngine()

			tradingLoop := loop.New(
				app.Config.Trading,
				app.Provider,
				engine,
				advisor,
				validator,
				pf,
				app.Store,
				app.Notifier,
				app.Logger,
			)

			if app.Config.Storage.CSVExport && app.Config.Storage.CSVPath != "" {
				tradingLoop.EnableCSVExport(app.Config.Storage.CSVPath)
			}

			if cycles > 0 {
				return tradingLoop.RunBounded(ctx, cycles)
			}
			return tradingLoop.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&cycles, "cycles", 0, "run a fixed number of cycles then exit (0 = run until interrupted)")

	return cmd
}

// restoreOrCreatePortfolio resumes from the persisted snapshot when one
// exists, otherwise starts fresh from the configured balance.
func restoreOrCreatePortfolio(ctx context.Context, app *App) (*portfolio.Portfolio, error) {
	snap, found, err := app.Store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading portfolio snapshot: %w", err)
	}
	if !found {
		app.Logger.Info().
			Float64("balance", app.Config.Trading.StartingBalance).
			Msg("No saved state, starting fresh portfolio")
		return portfolio.New(app.Config.Trading.StartingBalance), nil
	}

	app.Logger.Info().
		Float64("balance", snap.Balance).
		Int("open_positions", len(snap.Positions)).
		Int64("iteration", snap.IterationCounter).
		Time("saved_at", snap.SavedAt).
		Msg("Restored portfolio state")
	return portfolio.Restore(snap), nil
}
