package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"binance-paper-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Single-row portfolio snapshot, rewritten atomically each cycle
	CREATE TABLE IF NOT EXISTS snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		balance REAL NOT NULL,
		iteration_counter INTEGER NOT NULL,
		saved_at DATETIME NOT NULL
	);

	-- Open positions belonging to the snapshot
	CREATE TABLE IF NOT EXISTS positions (
		asset TEXT PRIMARY KEY,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		profit_target REAL NOT NULL,
		stop_loss REAL NOT NULL,
		leverage INTEGER NOT NULL,
		confidence REAL NOT NULL,
		margin REAL NOT NULL,
		entry_fee REAL NOT NULL,
		invalidation_condition TEXT,
		justification TEXT,
		opened_at DATETIME NOT NULL
	);

	-- Append-only closed-trade ledger
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		leverage INTEGER NOT NULL,
		gross_pnl REAL NOT NULL,
		net_pnl REAL NOT NULL,
		entry_fee REAL NOT NULL,
		exit_fee REAL NOT NULL,
		reason TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME NOT NULL,
		hold_duration INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_asset ON trades(asset);
	CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);

	-- Append-only equity history
	CREATE TABLE IF NOT EXISTS equity_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		equity REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_equity_timestamp ON equity_history(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot writes the snapshot row and the full positions table in one
// transaction so a concurrent reader never sees partial state.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap models.PortfolioSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot (id, balance, iteration_counter, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			iteration_counter = excluded.iteration_counter,
			saved_at = excluded.saved_at`,
		snap.Balance, snap.IterationCounter, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("saving snapshot row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clearing positions: %w", err)
	}

	for asset, pos := range snap.Positions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (
				asset, side, quantity, entry_price, profit_target, stop_loss,
				leverage, confidence, margin, entry_fee,
				invalidation_condition, justification, opened_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			asset, pos.Side, pos.Quantity, pos.EntryPrice, pos.ProfitTarget, pos.StopLoss,
			pos.Leverage, pos.Confidence, pos.Margin, pos.EntryFee,
			pos.InvalidationCondition, pos.Justification, pos.OpenedAt)
		if err != nil {
			return fmt.Errorf("saving position %s: %w", asset, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot restores the last saved snapshot. found is false on a fresh
// database; loading is idempotent.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (models.PortfolioSnapshot, bool, error) {
	var snap models.PortfolioSnapshot

	row := s.db.QueryRowContext(ctx,
		`SELECT balance, iteration_counter, saved_at FROM snapshot WHERE id = 1`)
	err := row.Scan(&snap.Balance, &snap.IterationCounter, &snap.SavedAt)
	if err == sql.ErrNoRows {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("loading snapshot row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, side, quantity, entry_price, profit_target, stop_loss,
			leverage, confidence, margin, entry_fee,
			invalidation_condition, justification, opened_at
		FROM positions`)
	if err != nil {
		return snap, false, fmt.Errorf("loading positions: %w", err)
	}
	defer rows.Close()

	snap.Positions = make(map[string]models.Position)
	for rows.Next() {
		var pos models.Position
		var invalidation, justification sql.NullString
		err := rows.Scan(&pos.Asset, &pos.Side, &pos.Quantity, &pos.EntryPrice,
			&pos.ProfitTarget, &pos.StopLoss, &pos.Leverage, &pos.Confidence,
			&pos.Margin, &pos.EntryFee, &invalidation, &justification, &pos.OpenedAt)
		if err != nil {
			return snap, false, fmt.Errorf("scanning position: %w", err)
		}
		pos.InvalidationCondition = invalidation.String
		pos.Justification = justification.String
		snap.Positions[pos.Asset] = pos
	}
	if err := rows.Err(); err != nil {
		return snap, false, fmt.Errorf("iterating positions: %w", err)
	}

	return snap, true, nil
}

// AppendTrade writes one closed-trade record. Records are never updated.
func (s *SQLiteStore) AppendTrade(ctx context.Context, trade models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, asset, side, quantity, entry_price, exit_price, leverage,
			gross_pnl, net_pnl, entry_fee, exit_fee, reason,
			opened_at, closed_at, hold_duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Asset, trade.Side, trade.Quantity, trade.EntryPrice,
		trade.ExitPrice, trade.Leverage, trade.GrossPnL, trade.NetPnL,
		trade.EntryFee, trade.ExitFee, trade.Reason,
		trade.OpenedAt, trade.ClosedAt, int64(trade.HoldDuration))
	if err != nil {
		return fmt.Errorf("appending trade %s: %w", trade.ID, err)
	}
	return nil
}

// GetTrades returns closed trades matching the filter, oldest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `
		SELECT id, asset, side, quantity, entry_price, exit_price, leverage,
			gross_pnl, net_pnl, entry_fee, exit_fee, reason,
			opened_at, closed_at, hold_duration
		FROM trades`

	var conditions []string
	var args []interface{}

	if filter.Asset != "" {
		conditions = append(conditions, "asset = ?")
		args = append(args, filter.Asset)
	}
	if filter.Reason != "" {
		conditions = append(conditions, "reason = ?")
		args = append(args, filter.Reason)
	}
	if !filter.StartDate.IsZero() {
		conditions = append(conditions, "closed_at >= ?")
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		conditions = append(conditions, "closed_at <= ?")
		args = append(args, filter.EndDate)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY closed_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var holdNanos int64
		err := rows.Scan(&t.ID, &t.Asset, &t.Side, &t.Quantity, &t.EntryPrice,
			&t.ExitPrice, &t.Leverage, &t.GrossPnL, &t.NetPnL,
			&t.EntryFee, &t.ExitFee, &t.Reason,
			&t.OpenedAt, &t.ClosedAt, &holdNanos)
		if err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.HoldDuration = time.Duration(holdNanos)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// AppendEquityPoint writes one equity snapshot.
func (s *SQLiteStore) AppendEquityPoint(ctx context.Context, point models.EquityPoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equity_history (timestamp, equity) VALUES (?, ?)`,
		point.Timestamp, point.Equity)
	if err != nil {
		return fmt.Errorf("appending equity point: %w", err)
	}
	return nil
}

// GetEquityHistory returns equity snapshots at or after since, oldest first.
func (s *SQLiteStore) GetEquityHistory(ctx context.Context, since time.Time) ([]models.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, equity FROM equity_history WHERE timestamp >= ? ORDER BY timestamp ASC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("querying equity history: %w", err)
	}
	defer rows.Close()

	var points []models.EquityPoint
	for rows.Next() {
		var p models.EquityPoint
		if err := rows.Scan(&p.Timestamp, &p.Equity); err != nil {
			return nil, fmt.Errorf("scanning equity point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements DataStore
var _ DataStore = (*SQLiteStore)(nil)
