// Package echo provides the inbound trust checkpoint for echo-based
// adapters, mirroring the gin middleware's contract.
package echo

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	fulfill "github.com/openstall/fulfill"
	"github.com/openstall/fulfill/metrics"
	"github.com/openstall/fulfill/trust"
)

// CallerIDKey is the echo context key carrying the authorized caller id.
const CallerIDKey = "fulfill.callerId"

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

// WithoutBodyValidation disables JSON-schema validation of the request body.
func WithoutBodyValidation() Option {
	return func(o *MiddlewareOptions) { o.ValidateBody = false }
}

// RequireCaller authorizes inbound fulfillment calls. The route must carry
// :chainId and :seller parameters.
func RequireCaller(auth trust.Authorizer, requiredScope string, opts ...Option) echo.MiddlewareFunc {
	options := &MiddlewareOptions{
		HeaderName:   fulfill.DefaultAuthHeader,
		Logger:       zap.NewNop(),
		ValidateBody: true,
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": "chainId must be numeric",
				})
			}
			seller := c.Param("seller")
			if !strings.HasPrefix(seller, "0x") || !common.IsHexAddress(seller) {
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error": "seller must be a 0x-prefixed address",
				})
			}

			rawKey := c.Request().Header.Get(options.HeaderName)
			decision := auth.Authorize(c.Request().Context(), rawKey, requiredScope, chainID, seller)
			if !decision.Allowed {
				metrics.AuthDenialsTotal.WithLabelValues(decision.Reason).Inc()
				options.Logger.Warn("fulfillment caller denied",
					zap.String("reason", decision.Reason),
					zap.Uint64("chainId", chainID),
					zap.String("seller", seller))
				return c.JSON(denialStatus(decision.Reason), map[string]string{
					"error":  "unauthorized",
					"reason": decision.Reason,
				})
			}
			c.Set(CallerIDKey, decision.CallerID)

			if options.ValidateBody {
				body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInboundBody))
				if err != nil {
					return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
				}
				c.Request().Body = io.NopCloser(bytes.NewReader(body))
				if err := fulfill.ValidateRequestBytes(body); err != nil {
					return c.JSON(http.StatusBadRequest, map[string]string{
						"error":  "invalid fulfillment request",
						"detail": err.Error(),
					})
				}
			}

			return next(c)
		}
	}
}

func denialStatus(reason string) int {
	switch reason {
	case trust.ReasonMissingKey, trust.ReasonInvalidKey:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}
