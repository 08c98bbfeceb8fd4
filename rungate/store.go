// Package rungate enforces at-most-once fulfillment dispatch per logical
// payment event. A persistent ledger records one row per fulfillment attempt;
// the gate wraps the ledger with the acquisition state machine that decides
// whether a caller may proceed, is already done, is in flight, or must abort.
package rungate

import (
	"context"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a fulfillment run.
type RunStatus string

const (
	// RunStarted means a dispatch attempt holds the identity and has not
	// yet reported an outcome.
	RunStarted RunStatus = "started"
	// RunOK is terminal: the upstream side effect happened.
	RunOK RunStatus = "ok"
	// RunError means the last attempt failed; the identity may be
	// re-acquired for a retry.
	RunError RunStatus = "error"
)

// RunKey is the logical identity of one fulfillment attempt. Sellers are
// compared case-insensitively; Normalize lower-cases the address so that the
// same key always maps to the same ledger row.
type RunKey struct {
	ChainID          uint64
	Seller           string
	PaymentReference string
}

// Normalize returns the canonical form of the key.
func (k RunKey) Normalize() RunKey {
	k.Seller = strings.ToLower(k.Seller)
	return k
}

// FulfillmentRun is one ledger row. Rows are created by the gate on first
// acquisition and are never deleted; they form the audit trail.
type FulfillmentRun struct {
	Key           RunKey
	OrderID       string
	Status        RunStatus
	ErrorDetail   string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// RunStore is the persistence interface behind the gate. Implementations
// must make InsertStarted and Reacquire atomic at the storage layer
// (compare-and-set semantics): callers may be distinct processes, so
// application-level locking is not sufficient.
type RunStore interface {
	// InsertStarted atomically inserts a started row for key. It reports
	// false (and no error) when a row for the identity already exists.
	InsertStarted(ctx context.Context, key RunKey, orderID string) (bool, error)

	// Get returns the row for key, or nil when no row exists.
	Get(ctx context.Context, key RunKey) (*FulfillmentRun, error)

	// Reacquire atomically transitions the row back to started, but only
	// if its current status equals from and, when updatedBefore is
	// non-zero, its last update is at or before that instant. It reports
	// whether the transition won.
	Reacquire(ctx context.Context, key RunKey, from RunStatus, updatedBefore time.Time) (bool, error)

	// MarkOk transitions the row to its terminal ok state. Calling it on
	// a row already ok is a no-op, never an error.
	MarkOk(ctx context.Context, key RunKey) error

	// MarkError transitions the row to error and records detail. A second
	// call overwrites the detail, never errors.
	MarkError(ctx context.Context, key RunKey, detail string) error
}
