package rungate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of RunStore.
//
// Suitable for single-instance deployments and tests, where ledger state
// doesn't need to be shared across processes. For anything processing real
// payments use SQLiteStore, which survives restarts.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[RunKey]*FulfillmentRun
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[RunKey]*FulfillmentRun),
		now:  time.Now,
	}
}

// InsertStarted atomically inserts a started row if none exists for key.
func (s *MemoryStore) InsertStarted(_ context.Context, key RunKey, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[key]; exists {
		return false, nil
	}
	now := s.now()
	s.runs[key] = &FulfillmentRun{
		Key:           key,
		OrderID:       orderID,
		Status:        RunStarted,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	return true, nil
}

// Get returns a copy of the row for key, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, key RunKey) (*FulfillmentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[key]
	if !exists {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

// Reacquire transitions the row back to started when its status is from and
// it is old enough.
func (s *MemoryStore) Reacquire(_ context.Context, key RunKey, from RunStatus, updatedBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[key]
	if !exists || run.Status != from {
		return false, nil
	}
	if !updatedBefore.IsZero() && run.LastUpdatedAt.After(updatedBefore) {
		return false, nil
	}
	run.Status = RunStarted
	run.ErrorDetail = ""
	run.LastUpdatedAt = s.now()
	return true, nil
}

// MarkOk transitions the row to ok. Missing rows, repeated calls and rows
// in error are no-ops: error leaves only through Reacquire.
func (s *MemoryStore) MarkOk(_ context.Context, key RunKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[key]
	if !exists || run.Status == RunError {
		return nil
	}
	run.Status = RunOK
	run.ErrorDetail = ""
	run.LastUpdatedAt = s.now()
	return nil
}

// MarkError transitions the row to error, recording detail. Rows already ok
// are left untouched: ok is terminal, and a late failure report from a
// previous owner must not reopen a fulfilled identity.
func (s *MemoryStore) MarkError(_ context.Context, key RunKey, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[key]
	if !exists || run.Status == RunOK {
		return nil
	}
	run.Status = RunError
	run.ErrorDetail = detail
	run.LastUpdatedAt = s.now()
	return nil
}

// Ensure MemoryStore implements RunStore
var _ RunStore = (*MemoryStore)(nil)
