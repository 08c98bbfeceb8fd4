package fulfill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerValid(t *testing.T) {
	assert.True(t, TriggerConfirmed.Valid())
	assert.True(t, TriggerFinalized.Valid())
	assert.False(t, Trigger("").Valid())
	assert.False(t, Trigger("pending").Valid())
}

func TestEffectiveTriggerDefaultsToFinalized(t *testing.T) {
	assert.Equal(t, TriggerFinalized, EffectiveTrigger(""))
	assert.Equal(t, TriggerConfirmed, EffectiveTrigger(TriggerConfirmed))
	assert.Equal(t, TriggerFinalized, EffectiveTrigger(TriggerFinalized))
}

func validRequest() *FulfillmentRequest {
	return &FulfillmentRequest{
		OrderID:          "order-1",
		PaymentReference: "0xabc",
		Items:            []LineItem{{SKU: "sku-1", Quantity: 2}},
		Trigger:          TriggerFinalized,
	}
}

func TestFulfillmentRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	tests := []struct {
		name   string
		mutate func(*FulfillmentRequest)
	}{
		{"missing order id", func(r *FulfillmentRequest) { r.OrderID = "" }},
		{"missing payment reference", func(r *FulfillmentRequest) { r.PaymentReference = "" }},
		{"no items", func(r *FulfillmentRequest) { r.Items = nil }},
		{"empty sku", func(r *FulfillmentRequest) { r.Items[0].SKU = "" }},
		{"zero quantity", func(r *FulfillmentRequest) { r.Items[0].Quantity = 0 }},
		{"negative quantity", func(r *FulfillmentRequest) { r.Items[0].Quantity = -1 }},
		{"unknown trigger", func(r *FulfillmentRequest) { r.Trigger = "pending" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := validRequest()
			tt.mutate(request)
			err := request.Validate()
			require.Error(t, err)
			assert.Equal(t, ErrCodeValidationFailed, ErrorCode(err))
		})
	}
}
