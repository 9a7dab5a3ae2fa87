package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/models"
	"binance-paper-trader/pkg/utils"
)

const systemPrompt = `You are a disciplined crypto futures trading advisor for a
simulated account. You receive one asset's market context per request and must
answer with a single JSON object, no prose, no markdown fences.

Schema:
{
  "signal": "entry" | "close" | "hold",
  "side": "long" | "short",            // entry only
  "quantity": <base asset units>,      // entry only, positive
  "profit_target": <price>,            // entry only, consistent with side
  "stop_loss": <price>,                // entry only, consistent with side
  "leverage": <integer>,               // entry only
  "confidence": <0..1>,
  "invalidation_condition": "<free text>",
  "justification": "<free text>"
}

Rules: never propose an entry whose margin plus fees exceeds the available
balance; for a long the stop_loss must be below the current price and the
profit_target above it, reversed for a short.`

// Advisor asks the LLM for one raw decision per asset per cycle. The returned
// mapping is untrusted; the decision validator owns schema checks.
type Advisor struct {
	llm         LLMClient
	maxLeverage int
	retry       utils.RetryConfig
}

// NewAdvisor creates a new decision advisor. maxAttempts bounds how many times
// a failed completion is retried before the asset falls back to a hold.
func NewAdvisor(llm LLMClient, maxLeverage, maxAttempts int) *Advisor {
	retry := utils.DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	return &Advisor{llm: llm, maxLeverage: maxLeverage, retry: retry}
}

// PortfolioContext is the read-only portfolio view included in the prompt.
type PortfolioContext struct {
	Balance  float64
	Position *models.Position
}

// Decide obtains one raw decision mapping for the asset.
func (a *Advisor) Decide(ctx context.Context, snap *models.MarketSnapshot, pctx PortfolioContext) (map[string]interface{}, error) {
	prompt := a.buildPrompt(snap, pctx)

	response, err := utils.RetryWithResult(ctx, a.retry, func() (string, error) {
		return a.llm.CompleteWithSystem(ctx, systemPrompt, prompt)
	})
	if err != nil {
		return nil, apperrors.NewCollaboratorError("llm", snap.Asset, "complete", err)
	}

	raw, err := parseDecisionJSON(response)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("llm", snap.Asset, "parse", err)
	}
	return raw, nil
}

func (a *Advisor) buildPrompt(snap *models.MarketSnapshot, pctx PortfolioContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Asset: %s\n", snap.Asset)
	fmt.Fprintf(&sb, "Current price: %.8g\n", snap.Price)
	fmt.Fprintf(&sb, "Funding rate: %.6f\n", snap.FundingRate)
	if snap.OpenInterest > 0 {
		fmt.Fprintf(&sb, "Open interest: %.4f\n", snap.OpenInterest)
	}

	if len(snap.Indicators) > 0 {
		sb.WriteString("\nIndicators (latest values):\n")
		names := make([]string, 0, len(snap.Indicators))
		for name := range snap.Indicators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "  %s: %.6f\n", name, snap.Indicators[name])
		}
	}

	if n := len(snap.Candles); n > 0 {
		sb.WriteString("\nRecent candles (oldest to newest, close prices):\n  ")
		start := n - 20
		if start < 0 {
			start = 0
		}
		for i := start; i < n; i++ {
			fmt.Fprintf(&sb, "%.8g ", snap.Candles[i].Close)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nAvailable balance: %.2f USDT\n", pctx.Balance)
	fmt.Fprintf(&sb, "Maximum leverage: %d\n", a.maxLeverage)

	if pos := pctx.Position; pos != nil {
		fmt.Fprintf(&sb, "\nOpen position: %s %.8g @ %.8g, leverage %d, stop %.8g, target %.8g\n",
			pos.Side, pos.Quantity, pos.EntryPrice, pos.Leverage, pos.StopLoss, pos.ProfitTarget)
		fmt.Fprintf(&sb, "Unrealized PnL at current price: %.4f\n", pos.UnrealizedPnL(snap.Price))
		if pos.InvalidationCondition != "" {
			fmt.Fprintf(&sb, "Stated invalidation condition: %s\n", pos.InvalidationCondition)
		}
		sb.WriteString("You may close this position or hold it; a new entry will be rejected.\n")
	} else {
		sb.WriteString("\nNo open position for this asset.\n")
	}

	sb.WriteString("\nRespond with the JSON decision object only.")
	return sb.String()
}

// parseDecisionJSON extracts the first JSON object from an LLM response,
// tolerating markdown code fences around it.
func parseDecisionJSON(response string) (map[string]interface{}, error) {
	text := strings.TrimSpace(response)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decoding decision JSON: %w", err)
	}
	return raw, nil
}
