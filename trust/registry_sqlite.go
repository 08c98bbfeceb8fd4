package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const callerSchema = `
CREATE TABLE IF NOT EXISTS trusted_callers (
    id         TEXT    NOT NULL PRIMARY KEY,
    key_hash   TEXT    NOT NULL UNIQUE,
    scopes     TEXT    NOT NULL DEFAULT '',
    seller     TEXT    NOT NULL DEFAULT '',
    chain_id   INTEGER NOT NULL DEFAULT 0,
    enabled    INTEGER NOT NULL DEFAULT 1,
    revoked_ms INTEGER
);
`

// SQLiteCallerStore persists trusted callers in the shared SQLite database.
// Scopes are stored space-separated.
type SQLiteCallerStore struct {
	db *sql.DB
}

// NewSQLiteCallerStore creates the caller table if needed.
func NewSQLiteCallerStore(db *sql.DB) (*SQLiteCallerStore, error) {
	if _, err := db.Exec(callerSchema); err != nil {
		return nil, fmt.Errorf("failed to apply caller schema: %w", err)
	}
	return &SQLiteCallerStore{db: db}, nil
}

// Put inserts or replaces a caller.
func (s *SQLiteCallerStore) Put(ctx context.Context, caller TrustedCaller) error {
	var revokedMs any
	if caller.RevokedAt != nil {
		revokedMs = caller.RevokedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trusted_callers
			(id, key_hash, scopes, seller, chain_id, enabled, revoked_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		caller.ID, caller.KeyHash, strings.Join(caller.Scopes, " "),
		caller.Seller, caller.ChainID, caller.Enabled, revokedMs)
	if err != nil {
		return fmt.Errorf("store caller: %w", err)
	}
	return nil
}

// Revoke marks a caller revoked by id. Revocation wins over any later
// credential match.
func (s *SQLiteCallerStore) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trusted_callers SET revoked_ms = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("revoke caller: %w", err)
	}
	return nil
}

// FindByKeyHash returns the caller for keyHash, or nil when unknown.
func (s *SQLiteCallerStore) FindByKeyHash(ctx context.Context, keyHash string) (*TrustedCaller, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, scopes, seller, chain_id, enabled, revoked_ms
		FROM trusted_callers
		WHERE key_hash = ?`, keyHash)

	var (
		caller    TrustedCaller
		scopes    string
		revokedMs sql.NullInt64
	)
	err := row.Scan(&caller.ID, &caller.KeyHash, &scopes, &caller.Seller,
		&caller.ChainID, &caller.Enabled, &revokedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read caller: %w", err)
	}
	if scopes != "" {
		caller.Scopes = strings.Fields(scopes)
	}
	if revokedMs.Valid {
		at := time.UnixMilli(revokedMs.Int64)
		caller.RevokedAt = &at
	}
	return &caller, nil
}

// Ensure SQLiteCallerStore implements CallerStore
var _ CallerStore = (*SQLiteCallerStore)(nil)
