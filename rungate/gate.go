package rungate

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AcquireResult is the outcome of a TryAcquire call.
type AcquireResult int

const (
	// Unavailable means the ledger could not answer; the caller must not
	// dispatch.
	Unavailable AcquireResult = iota
	// Acquired means the caller owns the run and should dispatch.
	Acquired
	// AlreadyProcessed means a previous run completed ok; dispatch must
	// not happen again.
	AlreadyProcessed
	// InProgress means another caller currently owns a started run.
	InProgress
)

func (r AcquireResult) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case AlreadyProcessed:
		return "already_processed"
	case InProgress:
		return "in_progress"
	default:
		return "unavailable"
	}
}

// Config carries the operator knobs for the gate. It is immutable after
// construction; the gate never reads configuration ambiently per call.
type Config struct {
	// AllowStartedTakeover permits re-acquiring a started run once it is
	// older than StaleAfter. Defaults to false: takeover can duplicate
	// side effects when the original caller is slow rather than dead, so
	// enabling it is an explicit operator decision.
	AllowStartedTakeover bool

	// StaleAfter is the age past which a started run is considered
	// abandoned. Defaults to 10 minutes.
	StaleAfter time.Duration

	// Logger for acquisition decisions (optional).
	Logger *zap.Logger
}

// Gate is the idempotency state machine wrapping a RunStore.
type Gate struct {
	store  RunStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// DefaultStaleAfter is the default age threshold for started-run takeover.
const DefaultStaleAfter = 10 * time.Minute

// New creates a gate over store with the given configuration.
func New(store RunStore, cfg Config) *Gate {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// TryAcquire attempts to take ownership of the identity for one dispatch.
//
// The insert-or-read step against the store is the single synchronization
// point: exactly one of N concurrent callers with the same identity observes
// Acquired. A run in error is always re-acquirable; a started run is only
// re-acquirable when takeover is enabled and the run is stale.
func (g *Gate) TryAcquire(ctx context.Context, key RunKey, orderID string) (AcquireResult, error) {
	key = key.Normalize()

	inserted, err := g.store.InsertStarted(ctx, key, orderID)
	if err != nil {
		return Unavailable, err
	}
	if inserted {
		return Acquired, nil
	}

	run, err := g.store.Get(ctx, key)
	if err != nil {
		return Unavailable, err
	}
	if run == nil {
		// Row vanished between insert conflict and read. Rows are never
		// deleted, so this indicates a broken store.
		return Unavailable, nil
	}

	switch run.Status {
	case RunOK:
		return AlreadyProcessed, nil

	case RunStarted:
		if !g.cfg.AllowStartedTakeover {
			return InProgress, nil
		}
		cutoff := g.now().Add(-g.cfg.StaleAfter)
		if run.LastUpdatedAt.After(cutoff) {
			return InProgress, nil
		}
		won, err := g.store.Reacquire(ctx, key, RunStarted, cutoff)
		if err != nil {
			return Unavailable, err
		}
		if !won {
			return InProgress, nil
		}
		g.logger.Warn("took over stale started run",
			zap.Uint64("chainId", key.ChainID),
			zap.String("seller", key.Seller),
			zap.String("paymentReference", key.PaymentReference),
			zap.Time("lastUpdatedAt", run.LastUpdatedAt))
		return Acquired, nil

	case RunError:
		won, err := g.store.Reacquire(ctx, key, RunError, time.Time{})
		if err != nil {
			return Unavailable, err
		}
		if !won {
			// Another retry got there first.
			return InProgress, nil
		}
		return Acquired, nil

	default:
		return Unavailable, nil
	}
}

// MarkOk records the terminal success of an owned run. Idempotent.
func (g *Gate) MarkOk(ctx context.Context, key RunKey) error {
	return g.store.MarkOk(ctx, key.Normalize())
}

// MarkError records a failed attempt, leaving the run re-acquirable.
// Idempotent; a second call overwrites the detail. A run already ok stays
// ok: a late failure report never reopens a fulfilled identity.
func (g *Gate) MarkError(ctx context.Context, key RunKey, detail string) error {
	return g.store.MarkError(ctx, key.Normalize(), detail)
}
