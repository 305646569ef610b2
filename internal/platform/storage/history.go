package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// HistoryEntry is one row of the connection history.
type HistoryEntry struct {
	WalletID        string
	Address         string
	ChainID         string
	ConnectionCount int
	FirstConnected  time.Time
	LastConnected   time.Time
}

// HistoryStore records wallet connection recency and preference.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a history store over the database.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// EnsureSchema creates the history table if missing.
func (h *HistoryStore) EnsureSchema(ctx context.Context) error {
	_, err := h.db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS connection_history (
			wallet_id        TEXT NOT NULL,
			address          TEXT NOT NULL,
			chain_id         TEXT NOT NULL,
			connection_count INTEGER NOT NULL DEFAULT 1,
			first_connected  TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_connected   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (wallet_id, address, chain_id)
		)`)
	if err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// RecordConnection upserts a history row on a successful connect.
func (h *HistoryStore) RecordConnection(ctx context.Context, walletID, address, chainID string) error {
	_, err := h.db.pool.Exec(ctx, `
		INSERT INTO connection_history (wallet_id, address, chain_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_id, address, chain_id) DO UPDATE
		SET connection_count = connection_history.connection_count + 1,
		    last_connected   = now()`,
		walletID, address, chainID)
	if err != nil {
		return fmt.Errorf("record connection: %w", err)
	}
	return nil
}

// Recent returns the most recently connected wallets, newest first.
func (h *HistoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := h.db.pool.Query(ctx, `
		SELECT wallet_id, address, chain_id, connection_count, first_connected, last_connected
		FROM connection_history
		ORDER BY last_connected DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent connections: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.WalletID, &e.Address, &e.ChainID, &e.ConnectionCount, &e.FirstConnected, &e.LastConnected); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Preferred returns the wallet with the highest connection count, or
// empty when no history exists.
func (h *HistoryStore) Preferred(ctx context.Context) (string, error) {
	var walletID string
	err := h.db.pool.QueryRow(ctx, `
		SELECT wallet_id
		FROM connection_history
		ORDER BY connection_count DESC, last_connected DESC
		LIMIT 1`).Scan(&walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query preferred wallet: %w", err)
	}
	return walletID, nil
}
