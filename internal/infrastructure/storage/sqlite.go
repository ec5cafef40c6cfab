package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_spot/internal/domain"
)

// SQLiteStore keeps positions and the trade ledger in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps whole-table replaces serialised.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			tp_price REAL NOT NULL DEFAULT 0,
			sl_price REAL NOT NULL DEFAULT 0,
			opened_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			reason TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: manual_targets was added after the first release.
	// We ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE positions ADD COLUMN manual_targets BOOLEAN NOT NULL DEFAULT 0`)

	return nil
}

// PositionRepository Implementation

func (s *SQLiteStore) LoadPositions(ctx context.Context) (domain.Positions, error) {
	query := `SELECT symbol, quantity, entry_price, tp_price, sl_price, manual_targets, opened_at, updated_at FROM positions`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make(domain.Positions)
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.EntryPrice, &p.TakeProfit, &p.StopLoss, &p.ManualTargets, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		positions[p.Symbol] = &p
	}
	return positions, rows.Err()
}

// SavePositions replaces the whole table in one transaction.
func (s *SQLiteStore) SavePositions(ctx context.Context, positions domain.Positions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO positions (symbol, quantity, entry_price, tp_price, sl_price, manual_targets, opened_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for symbol, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, symbol, p.Quantity, p.EntryPrice, p.TakeProfit, p.StopLoss, p.ManualTargets, p.OpenedAt.UTC(), p.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("insert position %s: %w", symbol, err)
		}
	}
	return tx.Commit()
}

// TradeRepository Implementation

func (s *SQLiteStore) AppendTrade(ctx context.Context, trade *domain.TradeRecord) error {
	query := `INSERT INTO trades (id, symbol, side, quantity, price, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, string(trade.Side), trade.Quantity, trade.Price, trade.Reason, trade.Timestamp.UTC())
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	query := `SELECT id, symbol, side, quantity, price, reason, created_at FROM trades ORDER BY created_at ASC, seq ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var (
			t      domain.TradeRecord
			side   string
			reason sql.NullString
			ts     time.Time
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.Price, &reason, &ts); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Reason = reason.String
		t.Timestamp = ts
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
