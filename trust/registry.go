package trust

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TrustedCaller is one registered upstream caller. The raw credential is
// never stored; KeyHash is the SHA-256 of the raw key (see HashKey).
type TrustedCaller struct {
	ID      string
	KeyHash string
	Scopes  []string

	// Seller optionally binds the caller to one seller address,
	// compared case-insensitively. Empty means unbound.
	Seller string
	// ChainID optionally binds the caller to one chain. Zero means
	// unbound.
	ChainID uint64

	Enabled   bool
	RevokedAt *time.Time
}

// HasScope reports whether the caller holds scope.
func (c *TrustedCaller) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// CallerStore looks up trusted callers by credential hash. FindByKeyHash
// returns nil (and no error) for unknown hashes.
type CallerStore interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*TrustedCaller, error)
}

// Registry authorizes callers against a CallerStore.
type Registry struct {
	store  CallerStore
	logger *zap.Logger
}

// NewRegistry creates a registry-backed authorizer.
func NewRegistry(store CallerStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger}
}

// Authorize hashes the presented key, looks the caller up, and checks
// enablement, revocation, scope, and the optional seller/chain bindings.
func (r *Registry) Authorize(ctx context.Context, rawKey, requiredScope string, chainID uint64, seller string) Decision {
	if rawKey == "" {
		return deny(ReasonMissingKey)
	}

	caller, err := r.store.FindByKeyHash(ctx, HashKey(rawKey))
	if err != nil {
		r.logger.Error("caller lookup failed", zap.Error(err))
		return deny(ReasonInvalidKey)
	}
	if caller == nil {
		return deny(ReasonInvalidKey)
	}
	if caller.RevokedAt != nil {
		return deny(ReasonCallerRevoked)
	}
	if !caller.Enabled {
		return deny(ReasonCallerDisabled)
	}
	if !caller.HasScope(requiredScope) {
		return deny(ReasonInsufficientScope)
	}
	if caller.Seller != "" && !strings.EqualFold(caller.Seller, seller) {
		return deny(ReasonSellerMismatch)
	}
	if caller.ChainID != 0 && caller.ChainID != chainID {
		return deny(ReasonChainMismatch)
	}
	return Decision{Allowed: true, CallerID: caller.ID}
}

// Ensure Registry implements Authorizer
var _ Authorizer = (*Registry)(nil)

// MemoryCallerStore is an in-memory CallerStore for single-instance
// deployments and tests.
type MemoryCallerStore struct {
	mu      sync.RWMutex
	callers map[string]TrustedCaller
}

// NewMemoryCallerStore creates an empty store.
func NewMemoryCallerStore() *MemoryCallerStore {
	return &MemoryCallerStore{callers: make(map[string]TrustedCaller)}
}

// Register adds or replaces a caller, keyed by its credential hash.
func (s *MemoryCallerStore) Register(caller TrustedCaller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callers[caller.KeyHash] = caller
}

// FindByKeyHash returns the caller for keyHash, or nil.
func (s *MemoryCallerStore) FindByKeyHash(_ context.Context, keyHash string) (*TrustedCaller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	caller, ok := s.callers[keyHash]
	if !ok {
		return nil, nil
	}
	cp := caller
	return &cp, nil
}

// Ensure MemoryCallerStore implements CallerStore
var _ CallerStore = (*MemoryCallerStore)(nil)
