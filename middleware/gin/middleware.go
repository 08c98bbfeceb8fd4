// Package gin provides the inbound trust checkpoint for gin-based adapters:
// a middleware that authorizes the presented service key before the
// fulfillment handler runs.
package gin

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	fulfill "github.com/openstall/fulfill"
	"github.com/openstall/fulfill/metrics"
	"github.com/openstall/fulfill/trust"
)

// CallerIDKey is the gin context key carrying the authorized caller id.
const CallerIDKey = "fulfill.callerId"

// maxInboundBody caps how much of an inbound request body is read during
// schema validation.
const maxInboundBody = 1 << 20

// MiddlewareOptions is the options for RequireCaller.
type MiddlewareOptions struct {
	HeaderName   string
	Logger       *zap.Logger
	ValidateBody bool
}

// Option mutates MiddlewareOptions.
type Option func(*MiddlewareOptions)

// WithHeaderName overrides the header carrying the service key.
func WithHeaderName(name string) Option {
	return func(o *MiddlewareOptions) { o.HeaderName = name }
}

// WithLogger sets the denial logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *MiddlewareOptions) { o.Logger = logger }
}

// WithoutBodyValidation disables JSON-schema validation of the request
// body, for adapters that validate it themselves.
func WithoutBodyValidation() Option {
	return func(o *MiddlewareOptions) { o.ValidateBody = false }
}

// RequireCaller authorizes inbound fulfillment calls. The route must carry
// :chainId and :seller parameters, per the .../fulfill/{chainId}/{seller}
// convention. Denials are JSON responses with the authorizer's reason;
// authorization failures are values, so no panic/abort paths exist beyond
// the HTTP status.
func RequireCaller(auth trust.Authorizer, requiredScope string, opts ...Option) gin.HandlerFunc {
	options := &MiddlewareOptions{
		HeaderName:   fulfill.DefaultAuthHeader,
		Logger:       zap.NewNop(),
		ValidateBody: true,
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "chainId must be numeric",
			})
			return
		}
		seller := c.Param("seller")
		if !strings.HasPrefix(seller, "0x") || !common.IsHexAddress(seller) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "seller must be a 0x-prefixed address",
			})
			return
		}

		rawKey := c.GetHeader(options.HeaderName)
		decision := auth.Authorize(c.Request.Context(), rawKey, requiredScope, chainID, seller)
		if !decision.Allowed {
			metrics.AuthDenialsTotal.WithLabelValues(decision.Reason).Inc()
			options.Logger.Warn("fulfillment caller denied",
				zap.String("reason", decision.Reason),
				zap.Uint64("chainId", chainID),
				zap.String("seller", seller))
			c.AbortWithStatusJSON(denialStatus(decision.Reason), gin.H{
				"error":  "unauthorized",
				"reason": decision.Reason,
			})
			return
		}
		c.Set(CallerIDKey, decision.CallerID)

		if options.ValidateBody {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBody))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			if err := fulfill.ValidateRequestBytes(body); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":  "invalid fulfillment request",
					"detail": err.Error(),
				})
				return
			}
		}

		c.Next()
	}
}

// denialStatus maps missing/invalid credentials to 401 and policy denials
// (scope, bindings, revocation) to 403.
func denialStatus(reason string) int {
	switch reason {
	case trust.ReasonMissingKey, trust.ReasonInvalidKey:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}
