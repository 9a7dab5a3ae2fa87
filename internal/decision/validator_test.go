package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/models"
)

func validEntry() map[string]interface{} {
	return map[string]interface{}{
		"signal":                 "entry",
		"side":                   "long",
		"quantity":               0.1,
		"profit_target":          55000.0,
		"stop_loss":              48000.0,
		"leverage":               5.0,
		"confidence":             0.7,
		"invalidation_condition": "close below 48000 on the 3m",
		"justification":          "momentum continuation",
	}
}

func TestValidateEntryLong(t *testing.T) {
	v := NewValidator(125)

	dec, err := v.Validate("BTCUSDT", validEntry(), 50000)
	require.NoError(t, err)

	assert.Equal(t, models.SignalEntry, dec.Signal)
	assert.Equal(t, models.SideLong, dec.Side)
	assert.Equal(t, 0.1, dec.Quantity)
	assert.Equal(t, 5, dec.Leverage)
	assert.Equal(t, 0.7, dec.Confidence)
	assert.Equal(t, "BTCUSDT", dec.Asset)
}

func TestValidateEntryShort(t *testing.T) {
	v := NewValidator(125)

	raw := validEntry()
	raw["side"] = "short"
	raw["profit_target"] = 48000.0
	raw["stop_loss"] = 52000.0

	dec, err := v.Validate("BTCUSDT", raw, 50000)
	require.NoError(t, err)
	assert.Equal(t, models.SideShort, dec.Side)
}

func TestValidateUnknownSignal(t *testing.T) {
	v := NewValidator(125)

	for _, signal := range []interface{}{"buy", "", nil, 42} {
		raw := validEntry()
		raw["signal"] = signal
		_, err := v.Validate("BTCUSDT", raw, 50000)
		require.Error(t, err, "signal %v should be rejected", signal)
		assert.True(t, apperrors.Is(err, apperrors.ErrUnknownSignal))
	}
}

func TestValidateNilPayload(t *testing.T) {
	v := NewValidator(125)
	_, err := v.Validate("BTCUSDT", nil, 50000)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownSignal))
}

func TestValidateInvertedRiskLevels(t *testing.T) {
	v := NewValidator(125)

	// Long with the stop above the market
	raw := validEntry()
	raw["stop_loss"] = 51000.0
	_, err := v.Validate("BTCUSDT", raw, 50000)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvertedRiskLevels))

	// Long with the target below the market
	raw = validEntry()
	raw["profit_target"] = 49000.0
	_, err = v.Validate("BTCUSDT", raw, 50000)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvertedRiskLevels))

	// Short with levels in long orientation
	raw = validEntry()
	raw["side"] = "short"
	_, err = v.Validate("BTCUSDT", raw, 50000)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvertedRiskLevels))
}

func TestValidateLeverageBounds(t *testing.T) {
	v := NewValidator(20)

	raw := validEntry()
	raw["leverage"] = 21.0
	_, err := v.Validate("BTCUSDT", raw, 50000)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrLeverageOutOfBounds))

	raw["leverage"] = 0.0
	_, err = v.Validate("BTCUSDT", raw, 50000)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrLeverageOutOfBounds))

	// Fractional leverage is rejected; whole-valued floats are accepted.
	raw["leverage"] = 5.5
	_, err = v.Validate("BTCUSDT", raw, 50000)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrLeverageOutOfBounds))

	raw["leverage"] = 20.0
	dec, err := v.Validate("BTCUSDT", raw, 50000)
	require.NoError(t, err)
	assert.Equal(t, 20, dec.Leverage)
}

func TestValidateQuantity(t *testing.T) {
	v := NewValidator(125)

	for _, qty := range []interface{}{-0.1, 0.0, "lots", nil} {
		raw := validEntry()
		raw["quantity"] = qty
		_, err := v.Validate("BTCUSDT", raw, 50000)
		require.Error(t, err, "quantity %v should be rejected", qty)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidQuantity))
	}
}

func TestValidateConfidenceClamped(t *testing.T) {
	v := NewValidator(125)

	raw := validEntry()
	raw["confidence"] = 1.7
	dec, err := v.Validate("BTCUSDT", raw, 50000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, dec.Confidence)

	raw["confidence"] = -0.3
	dec, err = v.Validate("BTCUSDT", raw, 50000)
	require.NoError(t, err)
	assert.Equal(t, 0.0, dec.Confidence)
}

func TestValidateCloseAndHoldSkipNumericChecks(t *testing.T) {
	v := NewValidator(125)

	dec, err := v.Validate("BTCUSDT", map[string]interface{}{
		"signal":        "close",
		"justification": "trend exhausted",
	}, 50000)
	require.NoError(t, err)
	assert.Equal(t, models.SignalClose, dec.Signal)

	dec, err = v.Validate("BTCUSDT", map[string]interface{}{"signal": "hold"}, 50000)
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, dec.Signal)
}

func TestValidateNormalizesCase(t *testing.T) {
	v := NewValidator(125)

	raw := validEntry()
	raw["signal"] = " Entry "
	raw["side"] = "LONG"
	dec, err := v.Validate("BTCUSDT", raw, 50000)
	require.NoError(t, err)
	assert.Equal(t, models.SignalEntry, dec.Signal)
	assert.Equal(t, models.SideLong, dec.Side)
}

func TestHoldDecision(t *testing.T) {
	dec := Hold("ETHUSDT", "advisor unavailable")
	assert.Equal(t, models.SignalHold, dec.Signal)
	assert.Equal(t, "ETHUSDT", dec.Asset)
	assert.Equal(t, "advisor unavailable", dec.Justification)
}
