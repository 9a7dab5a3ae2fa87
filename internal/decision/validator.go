// Package decision validates untrusted per-asset AI decision payloads before
// they are allowed to influence portfolio state. The portfolio core never
// re-checks shape: everything that reaches it has passed through here.
package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/models"
)

// Validator checks raw decision payloads against the decision schema.
type Validator struct {
	maxLeverage int
}

// NewValidator creates a validator bounded by the exchange's maximum leverage.
func NewValidator(maxLeverage int) *Validator {
	if maxLeverage < 1 {
		maxLeverage = 1
	}
	return &Validator{maxLeverage: maxLeverage}
}

// Validate turns one untrusted mapping into a validated Decision, or rejects
// it with a reason. currentPrice is the asset's market price this cycle; it is
// needed to check stop/target ordering for entry decisions.
func (v *Validator) Validate(asset string, raw map[string]interface{}, currentPrice float64) (*models.Decision, error) {
	if raw == nil {
		return nil, apperrors.NewValidationError(asset, "signal", nil, "unknown signal", apperrors.ErrUnknownSignal)
	}

	sigStr, _ := stringField(raw, "signal")
	signal := models.Signal(strings.ToLower(strings.TrimSpace(sigStr)))
	if !signal.Valid() {
		return nil, apperrors.NewValidationError(asset, "signal", sigStr, "unknown signal", apperrors.ErrUnknownSignal)
	}

	dec := &models.Decision{
		Asset:                 asset,
		Signal:                signal,
		Justification:         textField(raw, "justification"),
		InvalidationCondition: textField(raw, "invalidation_condition"),
		Timestamp:             time.Now().UTC(),
	}

	if conf, ok := numberField(raw, "confidence"); ok {
		dec.Confidence = clamp01(conf)
	}

	// close and hold carry no numeric requirements.
	if signal != models.SignalEntry {
		return dec, nil
	}

	sideStr, _ := stringField(raw, "side")
	side := models.Side(strings.ToLower(strings.TrimSpace(sideStr)))
	if !side.Valid() {
		return nil, apperrors.NewValidationError(asset, "side", sideStr, "side must be long or short", apperrors.ErrUnknownSignal)
	}
	dec.Side = side

	qty, ok := numberField(raw, "quantity")
	if !ok || !isFinitePositive(qty) {
		return nil, apperrors.NewValidationError(asset, "quantity", raw["quantity"], "quantity must be a positive number", apperrors.ErrInvalidQuantity)
	}
	dec.Quantity = qty

	target, ok := numberField(raw, "profit_target")
	if !ok || !isFinitePositive(target) {
		return nil, apperrors.NewValidationError(asset, "profit_target", raw["profit_target"], "profit_target must be a positive number", apperrors.ErrInvertedRiskLevels)
	}
	stop, ok := numberField(raw, "stop_loss")
	if !ok || !isFinitePositive(stop) {
		return nil, apperrors.NewValidationError(asset, "stop_loss", raw["stop_loss"], "stop_loss must be a positive number", apperrors.ErrInvertedRiskLevels)
	}

	// For a long the levels must bracket the market from below and above;
	// for a short the ordering is reversed.
	if side == models.SideLong && !(stop < currentPrice && currentPrice < target) {
		return nil, apperrors.NewValidationError(asset, "stop_loss/profit_target",
			fmt.Sprintf("stop=%.8g price=%.8g target=%.8g", stop, currentPrice, target),
			"inverted risk levels", apperrors.ErrInvertedRiskLevels)
	}
	if side == models.SideShort && !(target < currentPrice && currentPrice < stop) {
		return nil, apperrors.NewValidationError(asset, "stop_loss/profit_target",
			fmt.Sprintf("stop=%.8g price=%.8g target=%.8g", stop, currentPrice, target),
			"inverted risk levels", apperrors.ErrInvertedRiskLevels)
	}
	dec.ProfitTarget = target
	dec.StopLoss = stop

	lev, ok := integerField(raw, "leverage")
	if !ok || lev < 1 || lev > v.maxLeverage {
		return nil, apperrors.NewValidationError(asset, "leverage", raw["leverage"],
			fmt.Sprintf("leverage out of bounds [1, %d]", v.maxLeverage), apperrors.ErrLeverageOutOfBounds)
	}
	dec.Leverage = lev

	return dec, nil
}

// Hold returns the implicit hold decision substituted for an asset whose raw
// decision was rejected or never arrived.
func Hold(asset, reason string) *models.Decision {
	return &models.Decision{
		Asset:         asset,
		Signal:        models.SignalHold,
		Justification: reason,
		Timestamp:     time.Now().UTC(),
	}
}

func stringField(raw map[string]interface{}, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func textField(raw map[string]interface{}, key string) string {
	s, _ := stringField(raw, key)
	return s
}

// numberField tolerates the shapes JSON decoding produces: float64,
// json.Number, and integer types from hand-built maps.
func numberField(raw map[string]interface{}, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// integerField accepts whole numbers only; 5.0 is an integer, 5.5 is not.
func integerField(raw map[string]interface{}, key string) (int, bool) {
	f, ok := numberField(raw, key)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func isFinitePositive(f float64) bool {
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
