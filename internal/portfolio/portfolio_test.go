package portfolio

import (
	"math"
	"testing"

	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/models"
)

const feeRate = 0.000275

func entryDecision(side models.Side, qty, target, stop float64, leverage int) *models.Decision {
	return &models.Decision{
		Signal:       models.SignalEntry,
		Side:         side,
		Quantity:     qty,
		ProfitTarget: target,
		StopLoss:     stop,
		Leverage:     leverage,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOpenPositionDeductsMarginAndFee(t *testing.T) {
	p := New(10000)

	dec := entryDecision(models.SideLong, 0.1, 55000, 48000, 5)
	pos, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate)
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}

	// margin 0.1*50000 = 5000, notional 25000, fee 25000*0.000275 = 6.875
	if !almostEqual(pos.Margin, 5000) {
		t.Errorf("margin = %v, want 5000", pos.Margin)
	}
	if !almostEqual(pos.EntryFee, 6.875) {
		t.Errorf("entry fee = %v, want 6.875", pos.EntryFee)
	}
	if !almostEqual(p.Balance(), 4993.125) {
		t.Errorf("balance = %v, want 4993.125", p.Balance())
	}
}

func TestClosePositionCreditsBalance(t *testing.T) {
	p := New(10000)

	dec := entryDecision(models.SideLong, 0.1, 55000, 48000, 5)
	if _, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate); err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}

	trade, err := p.ClosePosition("BTCUSDT", 51000, feeRate, models.CloseReasonAI)
	if err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}

	// gross = (51000-50000)*0.1*5 = 500
	// exit fee = 51000*0.1*0.000275 = 1.4025 (on exit value, not notional)
	// net = 500 - 1.4025 - 6.875 = 491.7225
	if !almostEqual(trade.GrossPnL, 500) {
		t.Errorf("gross PnL = %v, want 500", trade.GrossPnL)
	}
	if !almostEqual(trade.ExitFee, 1.4025) {
		t.Errorf("exit fee = %v, want 1.4025", trade.ExitFee)
	}
	if !almostEqual(trade.NetPnL, 491.7225) {
		t.Errorf("net PnL = %v, want 491.7225", trade.NetPnL)
	}
	if !almostEqual(p.Balance(), 10491.7225) {
		t.Errorf("balance = %v, want 10491.7225", p.Balance())
	}
	if _, open := p.Position("BTCUSDT"); open {
		t.Error("position still open after close")
	}
	if len(p.TradeHistory()) != 1 {
		t.Errorf("trade history length = %d, want 1", len(p.TradeHistory()))
	}
}

func TestShortPnLIsDirectionAdjusted(t *testing.T) {
	p := New(10000)

	dec := entryDecision(models.SideShort, 0.1, 48000, 52000, 5)
	if _, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate); err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}

	trade, err := p.ClosePosition("BTCUSDT", 49000, feeRate, models.CloseReasonAI)
	if err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}

	// short gains when price falls: (50000-49000)*0.1*5 = 500
	if !almostEqual(trade.GrossPnL, 500) {
		t.Errorf("gross PnL = %v, want 500", trade.GrossPnL)
	}
}

func TestOpenRejectsInsufficientBalance(t *testing.T) {
	p := New(100)

	dec := entryDecision(models.SideLong, 0.1, 55000, 48000, 5)
	_, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate)
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	if !almostEqual(p.Balance(), 100) {
		t.Errorf("balance changed on rejected open: %v", p.Balance())
	}
	if _, open := p.Position("BTCUSDT"); open {
		t.Error("position opened despite rejection")
	}
}

func TestOpenRejectsWhenMarginExceedsRemainingBalance(t *testing.T) {
	p := New(10000)

	// First open commits most of the balance, leaving 4993.125.
	first := entryDecision(models.SideLong, 0.1, 55000, 48000, 5)
	if _, err := p.OpenPosition("BTCUSDT", first, 50000, feeRate); err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	// A second entry needing 6000 margin must be rejected with no state change.
	second := entryDecision(models.SideLong, 2, 3500, 2800, 1)
	_, err := p.OpenPosition("ETHUSDT", second, 3000, feeRate)
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if !almostEqual(p.Balance(), 4993.125) {
		t.Errorf("balance = %v, want 4993.125", p.Balance())
	}
	if _, open := p.Position("ETHUSDT"); open {
		t.Error("rejected entry created a position")
	}
}

func TestOpenRejectsDuplicatePosition(t *testing.T) {
	p := New(100000)

	dec := entryDecision(models.SideLong, 0.1, 55000, 48000, 5)
	if _, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate); err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	balance := p.Balance()
	_, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate)
	if !apperrors.Is(err, apperrors.ErrDuplicatePosition) {
		t.Fatalf("err = %v, want ErrDuplicatePosition", err)
	}
	if !almostEqual(p.Balance(), balance) {
		t.Errorf("balance changed on rejected duplicate open")
	}
}

func TestApplyDecisionCloseWhileFlatIsNoOp(t *testing.T) {
	p := New(10000)

	result, err := p.ApplyDecision("BTCUSDT", &models.Decision{Signal: models.SignalClose}, 50000, feeRate)
	if err != nil {
		t.Fatalf("close while flat returned error: %v", err)
	}
	if result.Opened != nil || result.Closed != nil {
		t.Error("close while flat changed state")
	}
	if !almostEqual(p.Balance(), 10000) {
		t.Errorf("balance = %v, want 10000", p.Balance())
	}
}

func TestApplyDecisionHoldChangesNothing(t *testing.T) {
	p := New(10000)

	result, err := p.ApplyDecision("BTCUSDT", &models.Decision{Signal: models.SignalHold}, 50000, feeRate)
	if err != nil {
		t.Fatalf("hold returned error: %v", err)
	}
	if result.Opened != nil || result.Closed != nil {
		t.Error("hold changed state")
	}
}

func TestCheckStopAndTargetLong(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		wantClose  bool
		wantReason models.CloseReason
	}{
		{"between levels", 50000, false, ""},
		{"at stop", 48000, true, models.CloseReasonStopLoss},
		{"below stop", 47000, true, models.CloseReasonStopLoss},
		{"at target", 52000, true, models.CloseReasonTarget},
		{"above target", 53000, true, models.CloseReasonTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(10000)
			dec := entryDecision(models.SideLong, 0.1, 52000, 48000, 2)
			if _, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate); err != nil {
				t.Fatalf("open failed: %v", err)
			}

			trade, err := p.CheckStopAndTarget("BTCUSDT", tt.price, feeRate)
			if err != nil {
				t.Fatalf("check failed: %v", err)
			}
			if tt.wantClose {
				if trade == nil {
					t.Fatal("expected close, got none")
				}
				if trade.Reason != tt.wantReason {
					t.Errorf("reason = %q, want %q", trade.Reason, tt.wantReason)
				}
			} else if trade != nil {
				t.Errorf("unexpected close: %v", trade.Reason)
			}
		})
	}
}

func TestCheckStopAndTargetShort(t *testing.T) {
	p := New(10000)
	dec := entryDecision(models.SideShort, 0.1, 48000, 52000, 2)
	if _, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Price rising through the stop closes the short at a loss.
	trade, err := p.CheckStopAndTarget("BTCUSDT", 52500, feeRate)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if trade == nil || trade.Reason != models.CloseReasonStopLoss {
		t.Fatalf("trade = %+v, want stop-loss close", trade)
	}
}

func TestCheckStopAndTargetFlatIsNoOp(t *testing.T) {
	p := New(10000)
	trade, err := p.CheckStopAndTarget("BTCUSDT", 50000, feeRate)
	if err != nil {
		t.Fatalf("check on flat asset returned error: %v", err)
	}
	if trade != nil {
		t.Errorf("check on flat asset closed a trade: %+v", trade)
	}
}

func TestStopWinsWhenBothLevelsBreached(t *testing.T) {
	p := New(10000)

	// Degenerate levels that a price can satisfy both of at once. The stop
	// check must classify this as a loss event, not a win.
	dec := entryDecision(models.SideLong, 0.1, 48000, 52000, 2)
	if _, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	trade, err := p.CheckStopAndTarget("BTCUSDT", 50000, feeRate)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if trade == nil || trade.Reason != models.CloseReasonStopLoss {
		t.Fatalf("trade = %+v, want stop-loss to win", trade)
	}
}

func TestEquityIncludesUnrealizedPnL(t *testing.T) {
	p := New(10000)

	dec := entryDecision(models.SideLong, 0.1, 55000, 48000, 5)
	if _, err := p.OpenPosition("BTCUSDT", dec, 50000, feeRate); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// balance 4993.125 + margin 5000 + uPnL (51000-50000)*0.1*5 = 500
	equity := p.Equity(map[string]float64{"BTCUSDT": 51000})
	if !almostEqual(equity, 10493.125) {
		t.Errorf("equity = %v, want 10493.125", equity)
	}

	// No quote for the asset: margin counts, unrealized PnL does not.
	equity = p.Equity(map[string]float64{})
	if !almostEqual(equity, 9993.125) {
		t.Errorf("equity without quote = %v, want 9993.125", equity)
	}
}

func TestIterationCounter(t *testing.T) {
	p := New(10000)
	if p.IterationCounter() != 0 {
		t.Fatalf("fresh counter = %d, want 0", p.IterationCounter())
	}
	p.IncrementIteration()
	p.IncrementIteration()
	if p.IterationCounter() != 2 {
		t.Errorf("counter = %d, want 2", p.IterationCounter())
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	p := New(10000)
	dec := entryDecision(models.SideShort, 0.5, 2800, 3200, 3)
	if _, err := p.OpenPosition("ETHUSDT", dec, 3000, feeRate); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	p.IncrementIteration()

	restored := Restore(p.Snapshot())

	if !almostEqual(restored.Balance(), p.Balance()) {
		t.Errorf("restored balance = %v, want %v", restored.Balance(), p.Balance())
	}
	if restored.IterationCounter() != 1 {
		t.Errorf("restored counter = %d, want 1", restored.IterationCounter())
	}
	pos, ok := restored.Position("ETHUSDT")
	if !ok {
		t.Fatal("restored portfolio lost the open position")
	}
	if pos.Side != models.SideShort || !almostEqual(pos.Quantity, 0.5) {
		t.Errorf("restored position = %+v", pos)
	}
}
