package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutboxEntry is one appended adapter response. The outbox is append-only:
// it exists for audit and replay visibility, entries are never deleted or
// mutated.
type OutboxEntry struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"orderId"`
	PaymentReference string          `json:"paymentReference"`
	ChainID          uint64          `json:"chainId"`
	Seller           string          `json:"seller"`
	Endpoint         string          `json:"endpoint"`
	Response         json.RawMessage `json:"response"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Outbox records adapter responses per order.
type Outbox interface {
	Append(ctx context.Context, entry OutboxEntry) error
}

// NewOutboxEntry fills in the entry id and timestamp.
func NewOutboxEntry(orderID, paymentReference string, chainID uint64, seller, endpoint string, response json.RawMessage) OutboxEntry {
	return OutboxEntry{
		ID:               uuid.NewString(),
		OrderID:          orderID,
		PaymentReference: paymentReference,
		ChainID:          chainID,
		Seller:           seller,
		Endpoint:         endpoint,
		Response:         response,
		CreatedAt:        time.Now().UTC(),
	}
}

// MemoryOutbox collects entries in memory, for single-instance deployments
// and tests.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries []OutboxEntry
}

// NewMemoryOutbox creates an empty outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// Append records an entry.
func (o *MemoryOutbox) Append(_ context.Context, entry OutboxEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (o *MemoryOutbox) Entries() []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]OutboxEntry, len(o.entries))
	copy(cp, o.entries)
	return cp
}

const outboxSchema = `
CREATE TABLE IF NOT EXISTS order_outbox (
    id                TEXT    NOT NULL PRIMARY KEY,
    order_id          TEXT    NOT NULL,
    payment_reference TEXT    NOT NULL,
    chain_id          INTEGER NOT NULL,
    seller            TEXT    NOT NULL,
    endpoint          TEXT    NOT NULL,
    response          TEXT    NOT NULL,
    created_at_ms     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_outbox_order ON order_outbox (order_id);
`

// SQLiteOutbox persists the outbox in the shared SQLite database.
type SQLiteOutbox struct {
	db *sql.DB
}

// NewSQLiteOutbox creates the outbox table if needed.
func NewSQLiteOutbox(db *sql.DB) (*SQLiteOutbox, error) {
	if _, err := db.Exec(outboxSchema); err != nil {
		return nil, fmt.Errorf("failed to apply outbox schema: %w", err)
	}
	return &SQLiteOutbox{db: db}, nil
}

// Append inserts an entry.
func (o *SQLiteOutbox) Append(ctx context.Context, entry OutboxEntry) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO order_outbox
			(id, order_id, payment_reference, chain_id, seller, endpoint, response, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrderID, entry.PaymentReference, entry.ChainID,
		entry.Seller, entry.Endpoint, string(entry.Response), entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append outbox entry: %w", err)
	}
	return nil
}

// ListByOrder returns the entries appended for an order, oldest first.
func (o *SQLiteOutbox) ListByOrder(ctx context.Context, orderID string) ([]OutboxEntry, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, order_id, payment_reference, chain_id, seller, endpoint, response, created_at_ms
		FROM order_outbox
		WHERE order_id = ?
		ORDER BY created_at_ms ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			entry     OutboxEntry
			response  string
			createdMs int64
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.PaymentReference,
			&entry.ChainID, &entry.Seller, &entry.Endpoint, &response, &createdMs); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.Response = json.RawMessage(response)
		entry.CreatedAt = time.UnixMilli(createdMs)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read outbox entries: %w", err)
	}
	return entries, nil
}

// Ensure both implement Outbox
var (
	_ Outbox = (*MemoryOutbox)(nil)
	_ Outbox = (*SQLiteOutbox)(nil)
)
