package dispatch

import (
	"context"
	"strings"
	"sync"
)

// OutboundCredential pre-authorizes a destination: when a dispatch matches a
// credential, the configured header is attached and the private-address guard
// is skipped, since an operator explicitly trusted the destination.
//
// The raw API key is held only on the calling side; the receiving adapter
// stores a hash (see the trust package).
type OutboundCredential struct {
	// Origin is the scheme://host[:port] the credential is bound to.
	Origin string
	// PathPrefix restricts the credential to endpoint paths under this
	// prefix, matched on whole path segments. "/" matches everything on
	// the origin.
	PathPrefix string
	// ServiceKind partitions credentials per adapter capability
	// (fulfill.ServiceKindFulfillment).
	ServiceKind string
	// HeaderName is the header carrying the key, e.g. X-Service-Key.
	HeaderName string
	// APIKey is the raw secret sent to the adapter.
	APIKey string
	// Seller optionally binds the credential to one seller address
	// (case-insensitive). Empty means any seller on the origin.
	Seller string
	// ChainID optionally binds the credential to one chain. Zero means
	// any chain.
	ChainID uint64
	// Enabled gates the credential without deleting it.
	Enabled bool
}

// CredentialQuery describes the destination a dispatch is about to call.
type CredentialQuery struct {
	Origin      string
	Path        string
	ServiceKind string
	Seller      string
	ChainID     uint64
}

// CredentialStore looks up outbound credentials. Lookup returns nil (and no
// error) when the destination has no matching credential; the dispatcher
// then treats it as untrusted.
type CredentialStore interface {
	Lookup(ctx context.Context, q CredentialQuery) (*OutboundCredential, error)
}

func credentialMatches(c *OutboundCredential, q CredentialQuery) bool {
	if !c.Enabled {
		return false
	}
	if !strings.EqualFold(c.Origin, q.Origin) {
		return false
	}
	if c.ServiceKind != q.ServiceKind {
		return false
	}
	if !pathWithinPrefix(q.Path, c.PathPrefix) {
		return false
	}
	if c.Seller != "" && !strings.EqualFold(c.Seller, q.Seller) {
		return false
	}
	if c.ChainID != 0 && c.ChainID != q.ChainID {
		return false
	}
	return true
}

// pathWithinPrefix matches on whole path segments: a prefix of "/fulfill"
// covers "/fulfill" and "/fulfill/...", never "/fulfillment-admin/...".
func pathWithinPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}

// MemoryCredentialStore is an in-memory CredentialStore for single-instance
// deployments and tests.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds []OutboundCredential
}

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

// Add registers a credential.
func (s *MemoryCredentialStore) Add(cred OutboundCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, cred)
}

// Lookup returns the first matching credential, or nil.
func (s *MemoryCredentialStore) Lookup(_ context.Context, q CredentialQuery) (*OutboundCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.creds {
		if credentialMatches(&s.creds[i], q) {
			cp := s.creds[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// Ensure MemoryCredentialStore implements CredentialStore
var _ CredentialStore = (*MemoryCredentialStore)(nil)
