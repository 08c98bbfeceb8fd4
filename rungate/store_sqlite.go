package rungate

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists the idempotency ledger in SQLite.
//
// The insert-or-read protocol relies on the database's own conflict handling:
// INSERT ... ON CONFLICT DO NOTHING for first acquisition and a conditional
// UPDATE ... WHERE status = ? for re-acquisition. Both are single atomic
// statements, so the gate is safe across distinct processes sharing the
// database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the ledger table if needed and returns a store over
// db. The caller owns the database handle; open it with storage.Open to get
// the required pragmas.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply run ledger schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// InsertStarted atomically inserts a started row for key.
func (s *SQLiteStore) InsertStarted(ctx context.Context, key RunKey, orderID string) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fulfillment_runs
			(chain_id, seller, payment_reference, order_id, status, created_at_ms, last_updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chain_id, seller, payment_reference) DO NOTHING`,
		key.ChainID, key.Seller, key.PaymentReference, orderID, string(RunStarted), now, now)
	if err != nil {
		return false, fmt.Errorf("insert started run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert started run: %w", err)
	}
	return n == 1, nil
}

// Get returns the row for key, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, key RunKey) (*FulfillmentRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, status, error_detail, created_at_ms, last_updated_ms
		FROM fulfillment_runs
		WHERE chain_id = ? AND seller = ? AND payment_reference = ?`,
		key.ChainID, key.Seller, key.PaymentReference)

	var (
		run       FulfillmentRun
		status    string
		createdMs int64
		updatedMs int64
	)
	err := row.Scan(&run.OrderID, &status, &run.ErrorDetail, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	run.Key = key
	run.Status = RunStatus(status)
	run.CreatedAt = time.UnixMilli(createdMs)
	run.LastUpdatedAt = time.UnixMilli(updatedMs)
	return &run, nil
}

// Reacquire conditionally flips the row back to started. The WHERE clause
// carries the full compare-and-set condition, so concurrent contenders race
// on a single UPDATE and at most one wins.
func (s *SQLiteStore) Reacquire(ctx context.Context, key RunKey, from RunStatus, updatedBefore time.Time) (bool, error) {
	now := s.now().UnixMilli()

	query := `
		UPDATE fulfillment_runs
		SET status = ?, error_detail = '', last_updated_ms = ?
		WHERE chain_id = ? AND seller = ? AND payment_reference = ? AND status = ?`
	args := []any{string(RunStarted), now, key.ChainID, key.Seller, key.PaymentReference, string(from)}
	if !updatedBefore.IsZero() {
		query += ` AND last_updated_ms <= ?`
		args = append(args, updatedBefore.UnixMilli())
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("reacquire run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reacquire run: %w", err)
	}
	return n == 1, nil
}

// MarkOk transitions the row to its terminal ok state. A row in error is
// left untouched: error leaves only through Reacquire.
func (s *SQLiteStore) MarkOk(ctx context.Context, key RunKey) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fulfillment_runs
		SET status = ?, error_detail = '', last_updated_ms = ?
		WHERE chain_id = ? AND seller = ? AND payment_reference = ? AND status != ?`,
		string(RunOK), s.now().UnixMilli(), key.ChainID, key.Seller, key.PaymentReference,
		string(RunError))
	if err != nil {
		return fmt.Errorf("mark run ok: %w", err)
	}
	return nil
}

// MarkError transitions the row to error, recording detail. A row already
// ok is left untouched: ok is terminal, and a late failure report from a
// previous owner must not reopen a fulfilled identity.
func (s *SQLiteStore) MarkError(ctx context.Context, key RunKey, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fulfillment_runs
		SET status = ?, error_detail = ?, last_updated_ms = ?
		WHERE chain_id = ? AND seller = ? AND payment_reference = ? AND status != ?`,
		string(RunError), detail, s.now().UnixMilli(), key.ChainID, key.Seller, key.PaymentReference,
		string(RunOK))
	if err != nil {
		return fmt.Errorf("mark run error: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements RunStore
var _ RunStore = (*SQLiteStore)(nil)
