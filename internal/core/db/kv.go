package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Storage scopes
const (
	ScopeDurable = "durable"
	ScopeSession = "session"
)

// KV is a key/value view of one scope of the database
type KV struct {
	db    *DB
	scope string
}

// KV returns the key/value store for a scope
func (db *DB) KV(scope string) *KV {
	return &KV{db: db, scope: scope}
}

// Scope returns the scope name
func (kv *KV) Scope() string {
	return kv.scope
}

// Get returns the value stored under key. ok is false when the key is absent.
func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.db.conn.QueryRowContext(ctx, `
		SELECT value FROM kv WHERE scope = ? AND key = ?
	`, kv.scope, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", kv.scope, key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value
func (kv *KV) Set(ctx context.Context, key, value string) error {
	_, err := kv.db.conn.ExecContext(ctx, `
		INSERT INTO kv (scope, key, value, size, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, key) DO UPDATE SET
			value = excluded.value,
			size = excluded.size,
			updated_at = CURRENT_TIMESTAMP
	`, kv.scope, key, value, len(value))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", kv.scope, key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (kv *KV) Remove(ctx context.Context, key string) error {
	_, err := kv.db.conn.ExecContext(ctx, `DELETE FROM kv WHERE scope = ? AND key = ?`, kv.scope, key)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", kv.scope, key, err)
	}
	return nil
}

// Clear deletes every key in the scope
func (kv *KV) Clear(ctx context.Context) error {
	_, err := kv.db.conn.ExecContext(ctx, `DELETE FROM kv WHERE scope = ?`, kv.scope)
	if err != nil {
		return fmt.Errorf("clear %s: %w", kv.scope, err)
	}
	return nil
}

// Entry describes one stored key
type Entry struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
}

// Entries lists the keys of the scope with their sizes
func (kv *KV) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := kv.db.conn.QueryContext(ctx, `
		SELECT key, size, updated_at FROM kv
		WHERE scope = ?
		ORDER BY key
	`, kv.scope)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Size, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
