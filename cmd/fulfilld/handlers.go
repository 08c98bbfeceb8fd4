package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	fulfill "github.com/openstall/fulfill"
	"github.com/openstall/fulfill/adapter"
	"github.com/openstall/fulfill/resolver"
	"github.com/openstall/fulfill/trust"
)

// handleFulfill runs the deployment's adapter variant. The middleware has
// already authorized the caller and schema-validated the body.
func handleFulfill(variant adapter.Adapter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		chainID, _ := strconv.ParseUint(c.Param("chainId"), 10, 64)
		seller := c.Param("seller")

		var request fulfill.FulfillmentRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		payload, err := variant.Fulfill(c.Request.Context(), chainID, seller, &request)
		if err != nil {
			logger.Error("adapter fulfillment failed",
				zap.String("orderId", request.OrderID),
				zap.String("paymentReference", request.PaymentReference),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", payload)
	}
}

// lifecycleEventBody is the webhook payload posted by the payment observer.
// The order snapshot rides along inline; routes and endpoints are still
// re-resolved from trusted configuration, never taken from the snapshot.
type lifecycleEventBody struct {
	Trigger          fulfill.Trigger `json:"trigger"`
	PaymentReference string          `json:"paymentReference"`
	Order            struct {
		ID      string  `json:"id"`
		ChainID uint64  `json:"chainId"`
		Seller  string  `json:"seller"`
		Buyer   *string `json:"buyer"`
		Lines   []struct {
			SKU      string `json:"sku"`
			Quantity int    `json:"quantity"`
		} `json:"lines"`
		Offers []struct {
			SKU      string          `json:"sku"`
			Trigger  fulfill.Trigger `json:"trigger"`
			Endpoint string          `json:"endpoint"`
		} `json:"offers"`
	} `json:"order"`
}

// handleLifecycleEvent authorizes the event source and forwards due order
// lines through the resolver. Replays come back as a deterministic report,
// never as retry-triggering errors.
func handleLifecycleEvent(auth trust.Authorizer, lines *resolver.Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body lifecycleEventBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rawKey := c.GetHeader(fulfill.DefaultAuthHeader)
		decision := auth.Authorize(c.Request.Context(), rawKey, eventScope, body.Order.ChainID, body.Order.Seller)
		if !decision.Allowed {
			logger.Warn("lifecycle event source denied", zap.String("reason", decision.Reason))
			status := http.StatusForbidden
			if decision.Reason == trust.ReasonMissingKey || decision.Reason == trust.ReasonInvalidKey {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": "unauthorized", "reason": decision.Reason})
			return
		}

		order := &resolver.Order{
			ID:               body.Order.ID,
			PaymentReference: body.PaymentReference,
			ChainID:          body.Order.ChainID,
			Seller:           body.Order.Seller,
			Buyer:            body.Order.Buyer,
		}
		for _, line := range body.Order.Lines {
			order.Lines = append(order.Lines, resolver.OrderLine{SKU: line.SKU, Quantity: line.Quantity})
		}
		for _, offer := range body.Order.Offers {
			order.Offers = append(order.Offers, resolver.Offer{SKU: offer.SKU, Trigger: offer.Trigger, Endpoint: offer.Endpoint})
		}

		report, err := lines.Process(c.Request.Context(), resolver.LifecycleEvent{
			Trigger:          body.Trigger,
			PaymentReference: body.PaymentReference,
		}, order)
		if err != nil {
			status := http.StatusInternalServerError
			if fulfill.ErrorCode(err) == fulfill.ErrCodeValidationFailed {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
