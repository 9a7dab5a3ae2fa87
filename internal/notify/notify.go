// Package notify provides operator notifications for trading events.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"binance-paper-trader/internal/config"
	"binance-paper-trader/internal/models"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendTrade(ctx context.Context, trade *models.Trade) error
	SendOpen(ctx context.Context, pos *models.Position) error
	SendError(ctx context.Context, err error, errContext string) error
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade NotificationType = "trade"
	NotificationOpen  NotificationType = "open"
	NotificationError NotificationType = "error"
	NotificationInfo  NotificationType = "info"
)

// NewNotifier builds the configured notifier, falling back to a no-op when
// notifications are disabled.
func NewNotifier(cfg *config.NotificationConfig) Notifier {
	if cfg == nil || !cfg.Enabled {
		return &NoOpNotifier{}
	}
	if cfg.Telegram.Enabled {
		return NewTelegramNotifier(cfg.Telegram)
	}
	return &NoOpNotifier{}
}

// TelegramNotifier sends notifications via the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// SendTrade sends a closed-trade summary.
func (t *TelegramNotifier) SendTrade(ctx context.Context, trade *models.Trade) error {
	msg := fmt.Sprintf("%s %s x%d closed (%s)\nEntry %.8g -> Exit %.8g\nNet PnL: %+.4f USDT",
		strings.ToUpper(string(trade.Side)), trade.Asset, trade.Leverage, trade.Reason,
		trade.EntryPrice, trade.ExitPrice, trade.NetPnL)
	return t.Send(ctx, Notification{
		Type:      NotificationTrade,
		Title:     fmt.Sprintf("Trade closed: %s", trade.Asset),
		Message:   msg,
		Timestamp: time.Now(),
	})
}

// SendOpen sends a position-opened summary.
func (t *TelegramNotifier) SendOpen(ctx context.Context, pos *models.Position) error {
	msg := fmt.Sprintf("%s %s x%d opened\nEntry %.8g, stop %.8g, target %.8g\nMargin %.4f, fee %.4f",
		strings.ToUpper(string(pos.Side)), pos.Asset, pos.Leverage,
		pos.EntryPrice, pos.StopLoss, pos.ProfitTarget, pos.Margin, pos.EntryFee)
	return t.Send(ctx, Notification{
		Type:      NotificationOpen,
		Title:     fmt.Sprintf("Position opened: %s", pos.Asset),
		Message:   msg,
		Timestamp: time.Now(),
	})
}

// SendError surfaces an operational error to the operator channel.
func (t *TelegramNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return t.Send(ctx, Notification{
		Type:      NotificationError,
		Title:     "Trading loop error",
		Message:   fmt.Sprintf("%s: %v", errContext, err),
		Timestamp: time.Now(),
	})
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier discards all notifications.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error { return nil }
func (n *NoOpNotifier) SendTrade(ctx context.Context, trade *models.Trade) error { return nil }
func (n *NoOpNotifier) SendOpen(ctx context.Context, pos *models.Position) error { return nil }
func (n *NoOpNotifier) SendError(ctx context.Context, err error, c string) error { return nil }

// Ensure implementations satisfy Notifier
var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*NoOpNotifier)(nil)
)
