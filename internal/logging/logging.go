// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "papertrader", "logs", "papertrader.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithAsset adds an asset symbol to the logger context.
func WithAsset(logger zerolog.Logger, asset string) zerolog.Logger {
	return logger.With().Str("asset", asset).Logger()
}

// WithCycle adds the iteration counter to the logger context.
func WithCycle(logger zerolog.Logger, cycle int64) zerolog.Logger {
	return logger.With().Int64("cycle", cycle).Logger()
}

// LogDecision logs a validated AI decision.
func LogDecision(logger zerolog.Logger, asset, signal string, confidence float64, justification string) {
	logger.Info().
		Str("event", "decision").
		Str("asset", asset).
		Str("signal", signal).
		Float64("confidence", confidence).
		Str("justification", justification).
		Msg("AI decision")
}

// LogOpen logs a position open event.
func LogOpen(logger zerolog.Logger, asset, side string, qty, price float64, leverage int) {
	logger.Info().
		Str("event", "open").
		Str("asset", asset).
		Str("side", side).
		Float64("quantity", qty).
		Float64("price", price).
		Int("leverage", leverage).
		Msg("Position opened")
}

// LogClose logs a position close event.
func LogClose(logger zerolog.Logger, asset, reason string, pnl, balance float64) {
	logger.Info().
		Str("event", "close").
		Str("asset", asset).
		Str("reason", reason).
		Float64("pnl", pnl).
		Float64("balance", balance).
		Msg("Position closed")
}
