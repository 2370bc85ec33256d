// Package store persists engine state in SQLite. Snapshots are
// checksummed JSON so a torn write is detected on load rather than
// silently resuming from garbage.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gridbot/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS symbol_state (
	symbol     TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol    TEXT NOT NULL,
	data      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE TABLE IF NOT EXISTS rotations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	from_symbol TEXT NOT NULL,
	to_symbol   TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// SQLiteStore implements core.IStateStore on a single database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ core.IStateStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL keeps readers unblocked and survives crashes mid-write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveSymbolState upserts one symbol's snapshot with a checksum.
func (s *SQLiteStore) SaveSymbolState(ctx context.Context, symbol string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("refusing to persist invalid snapshot for %s", symbol)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO symbol_state (symbol, data, checksum, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, symbol, string(data), checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write state for %s: %w", symbol, err)
	}

	return tx.Commit()
}

// LoadSymbolState returns the snapshot for symbol, or (nil, nil) when
// none exists. A checksum mismatch is an error, never a silent resume.
func (s *SQLiteStore) LoadSymbolState(ctx context.Context, symbol string) ([]byte, error) {
	query := `SELECT data, checksum FROM symbol_state WHERE symbol = ?`
	var data string
	var storedChecksum []byte
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state for %s: %w", symbol, err)
	}

	computed := sha256.Sum256([]byte(data))
	if !bytes.Equal(storedChecksum, computed[:]) {
		return nil, fmt.Errorf("checksum verification failed for %s: data corruption detected", symbol)
	}

	return []byte(data), nil
}

// AppendTrade records one fill in the append-only trade log.
func (s *SQLiteStore) AppendTrade(ctx context.Context, rec *core.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	query := `INSERT INTO trades (symbol, data, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, rec.Symbol, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	return nil
}

// TradesBySymbol returns a symbol's fills oldest first.
func (s *SQLiteStore) TradesBySymbol(ctx context.Context, symbol string) ([]*core.TradeRecord, error) {
	query := `SELECT data FROM trades WHERE symbol = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read trades for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []*core.TradeRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec core.TradeRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// AppendRotation records one acted-upon rotation signal.
func (s *SQLiteStore) AppendRotation(ctx context.Context, sig *core.RotationSignal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal rotation: %w", err)
	}

	query := `INSERT INTO rotations (from_symbol, to_symbol, data, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, sig.FromSymbol, sig.ToSymbol, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to append rotation: %w", err)
	}
	return nil
}

// Rotations returns the rotation history oldest first.
func (s *SQLiteStore) Rotations(ctx context.Context) ([]*core.RotationSignal, error) {
	query := `SELECT data FROM rotations ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read rotations: %w", err)
	}
	defer rows.Close()

	var out []*core.RotationSignal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sig core.RotationSignal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rotation: %w", err)
		}
		out = append(out, &sig)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
