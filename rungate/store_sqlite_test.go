package rungate

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstall/fulfill/storage"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStore_InsertStartedConflict(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey.Normalize()

	inserted, err := store.InsertStarted(ctx, key, "order-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertStarted(ctx, key, "order-1")
	require.NoError(t, err)
	assert.False(t, inserted, "second insert must observe the conflict")

	run, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunStarted, run.Status)
	assert.Equal(t, "order-1", run.OrderID)
	assert.False(t, run.CreatedAt.IsZero())
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestSQLiteStore(t)

	run, err := store.Get(context.Background(), testKey.Normalize())
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestSQLiteStore_ReacquireFromError(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey.Normalize()

	_, err := store.InsertStarted(ctx, key, "order-1")
	require.NoError(t, err)
	require.NoError(t, store.MarkError(ctx, key, "boom"))

	won, err := store.Reacquire(ctx, key, RunError, time.Time{})
	require.NoError(t, err)
	assert.True(t, won)

	// A second contender loses: the row is already started again.
	won, err = store.Reacquire(ctx, key, RunError, time.Time{})
	require.NoError(t, err)
	assert.False(t, won)

	run, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunStarted, run.Status)
	assert.Empty(t, run.ErrorDetail)
}

func TestSQLiteStore_ReacquireStaleCutoff(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey.Normalize()

	_, err := store.InsertStarted(ctx, key, "order-1")
	require.NoError(t, err)

	// Row is fresh: a cutoff in the past must not match it.
	won, err := store.Reacquire(ctx, key, RunStarted, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, won)

	// Cutoff in the future covers the row.
	won, err = store.Reacquire(ctx, key, RunStarted, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, won)
}

func TestSQLiteStore_MarkTransitions(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey.Normalize()

	_, err := store.InsertStarted(ctx, key, "order-1")
	require.NoError(t, err)

	require.NoError(t, store.MarkError(ctx, key, "transport failure"))
	run, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunError, run.Status)
	assert.Equal(t, "transport failure", run.ErrorDetail)

	// Error leaves only through Reacquire; a direct MarkOk is a no-op.
	require.NoError(t, store.MarkOk(ctx, key))
	run, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunError, run.Status)

	won, err := store.Reacquire(ctx, key, RunError, time.Time{})
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, store.MarkOk(ctx, key))
	run, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunOK, run.Status)
	assert.Empty(t, run.ErrorDetail)

	// Idempotent.
	require.NoError(t, store.MarkOk(ctx, key))
}

func TestSQLiteStore_MarkErrorAfterOkIsNoOp(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	key := testKey.Normalize()

	_, err := store.InsertStarted(ctx, key, "order-1")
	require.NoError(t, err)
	require.NoError(t, store.MarkOk(ctx, key))

	require.NoError(t, store.MarkError(ctx, key, "late timeout"))
	run, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunOK, run.Status)
	assert.Empty(t, run.ErrorDetail)
}

func TestGateOverSQLite_MutualExclusion(t *testing.T) {
	store := newTestSQLiteStore(t)
	gate := New(store, Config{})
	ctx := context.Background()

	const callers = 16
	results := make([]AcquireResult, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := gate.TryAcquire(ctx, testKey, "order-1")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = result
		}()
	}
	wg.Wait()

	acquired := 0
	for _, r := range results {
		if r == Acquired {
			acquired++
		}
	}
	assert.Equal(t, 1, acquired)
}
