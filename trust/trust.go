// Package trust authorizes inbound calls arriving at an adapter's
// fulfillment endpoint. Two interchangeable strategies implement the same
// capability: a single shared secret for simple deployments, and a
// persistent caller registry with scope, seller, and chain bindings.
//
// Authorization failure is always a returned decision, never an error:
// errors are reserved for the store breaking, not for a caller being denied.
package trust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Decision is the outcome of an authorization check. Reason is set on
// denial for observability.
type Decision struct {
	Allowed  bool
	CallerID string
	Reason   string
}

// Denial reasons.
const (
	ReasonMissingKey        = "missing key"
	ReasonInvalidKey        = "invalid key"
	ReasonCallerDisabled    = "caller disabled"
	ReasonCallerRevoked     = "caller revoked"
	ReasonInsufficientScope = "insufficient scope"
	ReasonSellerMismatch    = "seller mismatch"
	ReasonChainMismatch     = "chain mismatch"
)

// Authorizer validates a presented key against a required scope and the
// chain/seller the request claims to act for.
type Authorizer interface {
	Authorize(ctx context.Context, rawKey, requiredScope string, chainID uint64, seller string) Decision
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// HashKey derives the stored lookup hash for a raw caller key. Raw secrets
// are never persisted; the registry stores only this hash.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
