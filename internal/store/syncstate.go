package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// KeyHistoryTransferred records that the one-time history transfer ran.
const KeyHistoryTransferred = "history_transferred"

// GetSyncState returns the value stored under key, or "" if unset.
func (db *DB) GetSyncState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSyncState stores value under key.
func (db *DB) SetSyncState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// MarkHistoryTransferred sets the history transfer checkpoint.
func (db *DB) MarkHistoryTransferred(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		KeyHistoryTransferred, time.Now().UTC().Format(time.RFC3339), time.Now().UnixMilli())
	return err
}

// HistoryTransferred reports whether the checkpoint is set.
func (db *DB) HistoryTransferred() (bool, error) {
	v, err := db.GetSyncState(KeyHistoryTransferred)
	return v != "", err
}
