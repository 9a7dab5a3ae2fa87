// Package cli provides the command-line interface for the paper trader.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"binance-paper-trader/internal/agents"
	"binance-paper-trader/internal/config"
	"binance-paper-trader/internal/logging"
	"binance-paper-trader/internal/marketdata"
	"binance-paper-trader/internal/notify"
	"binance-paper-trader/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.DataStore
	Provider  marketdata.Provider
	LLMClient agents.LLMClient
	Notifier  notify.Notifier
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Notifier: notify.NewNotifier(&cfg.Notifications),
	}

	dataStore, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", cfg.Storage.DatabasePath).Msg("SQLite store initialized")
	}

	app.Provider = marketdata.NewBinanceClient(marketdata.BinanceConfig{
		BaseURL:     cfg.MarketData.BaseURL,
		Timeframe:   cfg.MarketData.Timeframe,
		CandleLimit: cfg.MarketData.CandleLimit,
		Timeout:     cfg.MarketData.Timeout,
	})

	if cfg.Credentials.OpenAI.APIKey != "" {
		app.LLMClient = agents.NewOpenAIClient(cfg.Credentials.OpenAI.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
		logger.Debug().Str("model", cfg.LLM.Model).Dur("timeout", cfg.LLM.Timeout).Msg("OpenAI LLM client initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "papertrader",
		Short: "Binance Paper Trader - AI-driven simulated futures trading",
		Long: `Binance Paper Trader runs a simulated leveraged futures account against
live Binance market data. An AI advisor proposes one decision per asset per
cycle; every decision is validated, applied to a virtual portfolio, and the
resulting trades and equity curve are persisted for analysis.

No real orders are ever placed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/papertrader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newReportCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("Binance Paper Trader v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Trading Configuration")
	output.Printf("  Assets:           %v\n", cfg.Trading.Assets)
	output.Printf("  Interval:         %s\n", cfg.Trading.Interval)
	output.Printf("  Starting Balance: %.2f USDT\n", cfg.Trading.StartingBalance)
	output.Printf("  Fee Rate:         %.6f\n", cfg.Trading.FeeRate)
	output.Printf("  Max Leverage:     %d\n", cfg.Trading.MaxLeverage)
	output.Printf("  Risk-Free Rate:   %.4f\n", cfg.Trading.RiskFreeRate)
	output.Println()

	output.Bold("Market Data")
	output.Printf("  Base URL:     %s\n", cfg.MarketData.BaseURL)
	output.Printf("  Timeframe:    %s\n", cfg.MarketData.Timeframe)
	output.Printf("  Candle Limit: %d\n", cfg.MarketData.CandleLimit)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:   %s\n", cfg.Storage.DatabasePath)
	output.Printf("  CSV Export: %v (%s)\n", cfg.Storage.CSVExport, cfg.Storage.CSVPath)
	output.Println()

	output.Bold("AI Advisor")
	output.Printf("  Model:   %s\n", cfg.LLM.Model)
	output.Printf("  Timeout: %s\n", cfg.LLM.Timeout)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:  %v\n", cfg.Notifications.Enabled)
	output.Printf("  Telegram: %v\n", cfg.Notifications.Telegram.Enabled)

	return nil
}
