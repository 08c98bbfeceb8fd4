package dispatch

import (
	"context"
	"database/sql"
	"fmt"
)

const credentialSchema = `
CREATE TABLE IF NOT EXISTS outbound_credentials (
    origin       TEXT    NOT NULL,
    path_prefix  TEXT    NOT NULL DEFAULT '/',
    service_kind TEXT    NOT NULL,
    header_name  TEXT    NOT NULL,
    api_key      TEXT    NOT NULL,
    seller       TEXT    NOT NULL DEFAULT '',
    chain_id     INTEGER NOT NULL DEFAULT 0,
    enabled      INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (origin, path_prefix, service_kind)
);
`

// SQLiteCredentialStore reads outbound credentials from the shared SQLite
// database. Matching beyond the origin/kind equality (path prefix, optional
// seller and chain bindings) happens in Go so the rules stay identical to
// MemoryCredentialStore.
type SQLiteCredentialStore struct {
	db *sql.DB
}

// NewSQLiteCredentialStore creates the credential table if needed.
func NewSQLiteCredentialStore(db *sql.DB) (*SQLiteCredentialStore, error) {
	if _, err := db.Exec(credentialSchema); err != nil {
		return nil, fmt.Errorf("failed to apply credential schema: %w", err)
	}
	return &SQLiteCredentialStore{db: db}, nil
}

// Put inserts or replaces a credential.
func (s *SQLiteCredentialStore) Put(ctx context.Context, cred OutboundCredential) error {
	prefix := cred.PathPrefix
	if prefix == "" {
		prefix = "/"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO outbound_credentials
			(origin, path_prefix, service_kind, header_name, api_key, seller, chain_id, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.Origin, prefix, cred.ServiceKind, cred.HeaderName, cred.APIKey,
		cred.Seller, cred.ChainID, cred.Enabled)
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// Lookup returns the first enabled credential matching the query, or nil.
func (s *SQLiteCredentialStore) Lookup(ctx context.Context, q CredentialQuery) (*OutboundCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, path_prefix, service_kind, header_name, api_key, seller, chain_id, enabled
		FROM outbound_credentials
		WHERE origin = ? COLLATE NOCASE AND service_kind = ? AND enabled = 1`,
		q.Origin, q.ServiceKind)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cred OutboundCredential
		if err := rows.Scan(&cred.Origin, &cred.PathPrefix, &cred.ServiceKind,
			&cred.HeaderName, &cred.APIKey, &cred.Seller, &cred.ChainID, &cred.Enabled); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if credentialMatches(&cred, q) {
			return &cred, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return nil, nil
}

// Ensure SQLiteCredentialStore implements CredentialStore
var _ CredentialStore = (*SQLiteCredentialStore)(nil)
