// Package config provides configuration management for the paper trading loop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	MarketData    MarketDataConfig   `mapstructure:"market_data"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
	LLM           LLMConfig          `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds the simulation parameters.
type TradingConfig struct {
	Assets          []string      `mapstructure:"assets"`
	Interval        time.Duration `mapstructure:"interval"`
	StartingBalance float64       `mapstructure:"starting_balance"`
	FeeRate         float64       `mapstructure:"fee_rate"`
	MaxLeverage     int           `mapstructure:"max_leverage"`
	RiskFreeRate    float64       `mapstructure:"risk_free_rate"`
}

// MarketDataConfig holds the market data provider configuration.
type MarketDataConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeframe   string        `mapstructure:"timeframe"`
	CandleLimit int           `mapstructure:"candle_limit"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	CSVExport    bool   `mapstructure:"csv_export"`
	CSVPath      string `mapstructure:"csv_path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// LLMConfig holds AI decision configuration.
type LLMConfig struct {
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/papertrader"
	}
	return filepath.Join(home, ".config", "papertrader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// Pick up a local .env if present; missing file is fine.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if err := loadLLMConfig(configDir, &cfg.LLM); err != nil {
		return nil, fmt.Errorf("loading llm.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("trading.assets", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("trading.interval", "3m")
	v.SetDefault("trading.starting_balance", 10000.0)
	v.SetDefault("trading.fee_rate", 0.000275)
	v.SetDefault("trading.max_leverage", 125)
	v.SetDefault("trading.risk_free_rate", 0.04)
	v.SetDefault("market_data.base_url", "https://fapi.binance.com")
	v.SetDefault("market_data.timeframe", "3m")
	v.SetDefault("market_data.candle_limit", 100)
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("storage.csv_export", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createTemplateConfig(configDir); err != nil {
				return err
			}
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func loadLLMConfig(configDir string, llm *LLMConfig) error {
	v := viper.New()
	v.SetConfigName("llm")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("model", "gpt-4o")
	v.SetDefault("timeout", "60s")
	v.SetDefault("max_attempts", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createTemplateLLMConfig(configDir); err != nil {
				return err
			}
			return v.Unmarshal(llm)
		}
		return err
	}

	return v.Unmarshal(llm)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

func applyDefaults(cfg *Config, configDir string) {
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(configDir, "papertrader.db")
	}
	if cfg.Storage.CSVPath == "" {
		cfg.Storage.CSVPath = filepath.Join(configDir, "trades.csv")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Trading.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	if c.Trading.StartingBalance <= 0 {
		return fmt.Errorf("starting_balance must be positive")
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		return fmt.Errorf("fee_rate must be in [0, 1)")
	}
	if c.Trading.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be at least 1")
	}
	if c.Trading.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.MarketData.CandleLimit < 30 {
		return fmt.Errorf("candle_limit must be at least 30 for indicator warmup")
	}
	return nil
}

// RequireLLMCredentials fails when the LLM collaborator cannot be constructed.
// Missing credentials are the only fatal configuration-time failure.
func (c *Config) RequireLLMCredentials() error {
	if c.Credentials.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required (set env var or credentials.toml)")
	}
	return nil
}
