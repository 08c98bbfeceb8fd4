package fulfill

import "fmt"

// Trigger is the payment lifecycle milestone at which an offer's fulfillment
// fires.
type Trigger string

const (
	// TriggerConfirmed fires once the payment transaction is confirmed on
	// chain but not yet past the reorg window.
	TriggerConfirmed Trigger = "confirmed"

	// TriggerFinalized fires once the payment is finalized. This is the
	// default for offers that declare no trigger.
	TriggerFinalized Trigger = "finalized"
)

// Valid reports whether t is a known lifecycle trigger.
func (t Trigger) Valid() bool {
	return t == TriggerConfirmed || t == TriggerFinalized
}

// EffectiveTrigger resolves an offer's declared trigger, defaulting to
// finalized when the offer declares none.
func EffectiveTrigger(declared Trigger) Trigger {
	if declared == "" {
		return TriggerFinalized
	}
	return declared
}

// LineItem is one SKU/quantity pair inside a fulfillment request.
type LineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// FulfillmentRequest is the JSON body POSTed to an adapter's fulfillment
// endpoint. It is constructed fresh per dispatch attempt from an order
// snapshot and is immutable once sent.
type FulfillmentRequest struct {
	OrderID          string     `json:"orderId"`
	PaymentReference string     `json:"paymentReference"`
	Buyer            *string    `json:"buyer"`
	Items            []LineItem `json:"items"`
	Trigger          Trigger    `json:"trigger"`
}

// Validate performs structural checks on a request before it crosses the
// wire. Schema validation of inbound bytes is handled separately by
// ValidateRequestBytes.
func (r *FulfillmentRequest) Validate() error {
	if r.OrderID == "" {
		return NewDispatchError(ErrCodeValidationFailed, "orderId is required")
	}
	if r.PaymentReference == "" {
		return NewDispatchError(ErrCodeValidationFailed, "paymentReference is required")
	}
	if len(r.Items) == 0 {
		return NewDispatchError(ErrCodeValidationFailed, "at least one item is required")
	}
	for i, item := range r.Items {
		if item.SKU == "" {
			return NewDispatchError(ErrCodeValidationFailed, fmt.Sprintf("items[%d]: sku is required", i))
		}
		if item.Quantity <= 0 {
			return NewDispatchError(ErrCodeValidationFailed, fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
	}
	if !r.Trigger.Valid() {
		return NewDispatchError(ErrCodeValidationFailed, fmt.Sprintf("unknown trigger %q", r.Trigger))
	}
	return nil
}
