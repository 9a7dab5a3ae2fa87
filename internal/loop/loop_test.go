package loop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"binance-paper-trader/internal/agents"
	"binance-paper-trader/internal/analysis/indicators"
	"binance-paper-trader/internal/config"
	"binance-paper-trader/internal/decision"
	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/models"
	"binance-paper-trader/internal/notify"
	"binance-paper-trader/internal/portfolio"
	"binance-paper-trader/internal/store"
)

type fakeProvider struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (f *fakeProvider) Snapshot(ctx context.Context, asset string) (*models.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.MarketSnapshot{
		Asset:     asset,
		Price:     f.prices[asset],
		Timestamp: time.Now().UTC(),
	}, nil
}

func (f *fakeProvider) setPrice(asset string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

type fakeAdvisor struct {
	raw map[string]interface{}
	err error
}

func (f *fakeAdvisor) Decide(ctx context.Context, snap *models.MarketSnapshot, pctx agents.PortfolioContext) (map[string]interface{}, error) {
	return f.raw, f.err
}

// memStore is an in-memory DataStore for loop tests.
type memStore struct {
	mu        sync.Mutex
	snap      models.PortfolioSnapshot
	hasSnap   bool
	trades    []models.Trade
	equity    []models.EquityPoint
	saveErr   error
	equityErr error
}

func (m *memStore) SaveSnapshot(ctx context.Context, snap models.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = snap
	m.hasSnap = true
	return nil
}

func (m *memStore) LoadSnapshot(ctx context.Context) (models.PortfolioSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.hasSnap, nil
}

func (m *memStore) AppendTrade(ctx context.Context, trade models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *memStore) GetTrades(ctx context.Context, filter store.TradeFilter) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Trade(nil), m.trades...), nil
}

func (m *memStore) AppendEquityPoint(ctx context.Context, point models.EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.equityErr != nil {
		return m.equityErr
	}
	m.equity = append(m.equity, point)
	return nil
}

func (m *memStore) GetEquityHistory(ctx context.Context, since time.Time) ([]models.EquityPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.EquityPoint(nil), m.equity...), nil
}

func (m *memStore) Close() error { return nil }

var _ store.DataStore = (*memStore)(nil)

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		Assets:          []string{"BTCUSDT"},
		Interval:        10 * time.Millisecond,
		StartingBalance: 10000,
		FeeRate:         0.000275,
		MaxLeverage:     20,
	}
}

func newTestLoop(advisor DecisionSource, provider *fakeProvider, db *memStore) (*Loop, *portfolio.Portfolio) {
	cfg := testConfig()
	pf := portfolio.New(cfg.StartingBalance)
	l := New(
		cfg,
		provider,
		indicators.NewEngine(1),
		advisor,
		decision.NewValidator(cfg.MaxLeverage),
		pf,
		db,
		&notify.NoOpNotifier{},
		zerolog.Nop(),
	)
	// Fast retries so failure tests do not sleep.
	l.retry.InitialDelay = time.Millisecond
	l.retry.MaxDelay = time.Millisecond
	return l, pf
}

func entryRaw() map[string]interface{} {
	return map[string]interface{}{
		"signal":        "entry",
		"side":          "long",
		"quantity":      0.1,
		"profit_target": 55000.0,
		"stop_loss":     48000.0,
		"leverage":      5.0,
		"confidence":    0.8,
	}
}

func TestRunCycleAppliesEntryDecision(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{}
	l, pf := newTestLoop(&fakeAdvisor{raw: entryRaw()}, provider, db)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	pos, ok := pf.Position("BTCUSDT")
	if !ok {
		t.Fatal("expected an open position")
	}
	if pos.Side != models.SideLong || pos.Leverage != 5 {
		t.Errorf("position = %+v", pos)
	}
	if got := pf.IterationCounter(); got != 1 {
		t.Errorf("iteration counter = %d, want 1", got)
	}
	if !db.hasSnap {
		t.Error("snapshot not persisted")
	}
	if db.snap.IterationCounter != 1 {
		t.Errorf("persisted counter = %d, want 1", db.snap.IterationCounter)
	}
	if len(db.equity) != 1 {
		t.Errorf("equity points = %d, want 1", len(db.equity))
	}
}

func TestAdvisorFailureDegradesToHold(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{}
	l, pf := newTestLoop(&fakeAdvisor{err: errors.New("timeout")}, provider, db)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if _, ok := pf.Position("BTCUSDT"); ok {
		t.Error("no position should open when the advisor fails")
	}
	if got := pf.IterationCounter(); got != 1 {
		t.Errorf("iteration counter = %d, want 1 even on a hold cycle", got)
	}
}

func TestInvalidDecisionDegradesToHold(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{}
	raw := entryRaw()
	raw["signal"] = "yolo"
	l, pf := newTestLoop(&fakeAdvisor{raw: raw}, provider, db)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if _, ok := pf.Position("BTCUSDT"); ok {
		t.Error("rejected decision must not open a position")
	}
}

func TestFetchFailureSkipsAssetButCompletesCycle(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{}, err: errors.New("binance down")}
	db := &memStore{}
	l, pf := newTestLoop(&fakeAdvisor{raw: entryRaw()}, provider, db)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if _, ok := pf.Position("BTCUSDT"); ok {
		t.Error("no position should open without market data")
	}
	if got := pf.IterationCounter(); got != 1 {
		t.Errorf("iteration counter = %d, want 1", got)
	}
}

func TestStopLossClosesOnLaterCycle(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{}
	advisor := &fakeAdvisor{raw: entryRaw()}
	l, pf := newTestLoop(advisor, provider, db)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("entry cycle failed: %v", err)
	}
	if _, ok := pf.Position("BTCUSDT"); !ok {
		t.Fatal("entry cycle should open a position")
	}

	// Next cycle the advisor holds and the price has gapped below the stop.
	advisor.raw = map[string]interface{}{"signal": "hold"}
	provider.setPrice("BTCUSDT", 47000)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("stop cycle failed: %v", err)
	}

	if _, ok := pf.Position("BTCUSDT"); ok {
		t.Error("position should be closed by the stop check")
	}
	trades := pf.TradeHistory()
	if len(trades) != 1 {
		t.Fatalf("trade history length = %d, want 1", len(trades))
	}
	if trades[0].Reason != models.CloseReasonStopLoss {
		t.Errorf("close reason = %q, want stop-loss", trades[0].Reason)
	}
	if len(db.trades) != 1 {
		t.Errorf("persisted trades = %d, want 1", len(db.trades))
	}
}

func TestAIcloseRecordsTrade(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{}
	advisor := &fakeAdvisor{raw: entryRaw()}
	l, pf := newTestLoop(advisor, provider, db)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("entry cycle failed: %v", err)
	}

	advisor.raw = map[string]interface{}{"signal": "close", "justification": "take profit early"}
	provider.setPrice("BTCUSDT", 51000)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("close cycle failed: %v", err)
	}

	trades := pf.TradeHistory()
	if len(trades) != 1 {
		t.Fatalf("trade history length = %d, want 1", len(trades))
	}
	if trades[0].Reason != models.CloseReasonAI {
		t.Errorf("close reason = %q, want ai_close", trades[0].Reason)
	}
}

func TestCSVExportMirrorsClosedTrades(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{}
	advisor := &fakeAdvisor{raw: entryRaw()}
	l, _ := newTestLoop(advisor, provider, db)

	csvPath := filepath.Join(t.TempDir(), "trades.csv")
	l.EnableCSVExport(csvPath)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("entry cycle failed: %v", err)
	}
	if _, err := os.Stat(csvPath); !os.IsNotExist(err) {
		t.Error("no CSV expected before the first close")
	}

	advisor.raw = map[string]interface{}{"signal": "close"}
	provider.setPrice("BTCUSDT", 51000)

	if err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("close cycle failed: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("reading exported CSV: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "BTCUSDT") {
		t.Error("exported CSV missing the closed trade's asset")
	}
	if !strings.Contains(content, string(models.CloseReasonAI)) {
		t.Error("exported CSV missing the close reason")
	}
}

func TestPersistenceFailureHaltsLoop(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{saveErr: errors.New("disk full")}
	l, _ := newTestLoop(&fakeAdvisor{raw: map[string]interface{}{"signal": "hold"}}, provider, db)

	err := l.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected persistence failure to surface")
	}
	if !apperrors.Is(err, apperrors.ErrPersistenceFailed) {
		t.Errorf("err = %v, want ErrPersistenceFailed in chain", err)
	}
}

func TestRunBoundedStopsAfterCycles(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"BTCUSDT": 50000}}
	db := &memStore{}
	l, pf := newTestLoop(&fakeAdvisor{raw: map[string]interface{}{"signal": "hold"}}, provider, db)

	if err := l.RunBounded(context.Background(), 3); err != nil {
		t.Fatalf("RunBounded failed: %v", err)
	}
	if got := pf.IterationCounter(); got != 3 {
		t.Errorf("iteration counter = %d, want 3", got)
	}
	if len(db.equity) != 3 {
		t.Errorf("equity points = %d, want 3", len(db.equity))
	}
}
