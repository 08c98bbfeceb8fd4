package trust

import (
	"context"
	"crypto/subtle"

	"go.uber.org/zap"
)

// MinSecretLength is the shortest shared secret that doesn't trigger an
// operational warning. Short secrets are accepted, not rejected: rotating a
// weak secret is an operator task, and refusing to boot would take the
// adapter down with it.
const MinSecretLength = 16

// SharedSecret authorizes against a single secret loaded at startup.
// On success there is no caller differentiation: the decision is binary and
// carries no caller id, scope, or binding checks.
type SharedSecret struct {
	secret []byte
}

// NewSharedSecret creates the shared-secret authorizer. A secret below
// MinSecretLength logs a warning through logger (optional).
func NewSharedSecret(secret string, logger *zap.Logger) *SharedSecret {
	if len(secret) < MinSecretLength && logger != nil {
		logger.Warn("shared service secret is shorter than recommended",
			zap.Int("length", len(secret)),
			zap.Int("recommended", MinSecretLength))
	}
	return &SharedSecret{secret: []byte(secret)}
}

// Authorize compares the presented key in constant time. The length check
// short-circuits, then the byte-wise comparison runs in fixed time to avoid
// timing side channels on the secret's content.
func (s *SharedSecret) Authorize(_ context.Context, rawKey, _ string, _ uint64, _ string) Decision {
	if rawKey == "" {
		return deny(ReasonMissingKey)
	}
	if len(rawKey) != len(s.secret) {
		return deny(ReasonInvalidKey)
	}
	if subtle.ConstantTimeCompare([]byte(rawKey), s.secret) != 1 {
		return deny(ReasonInvalidKey)
	}
	return Decision{Allowed: true}
}

// Ensure SharedSecret implements Authorizer
var _ Authorizer = (*SharedSecret)(nil)
