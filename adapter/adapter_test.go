package adapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fulfill "github.com/openstall/fulfill"
)

func TestRegistryResolvesBuiltin(t *testing.T) {
	variant, err := New("acknowledge", nil)
	require.NoError(t, err)
	assert.IsType(t, &Acknowledge{}, variant)
	assert.Contains(t, Names(), "acknowledge")
}

func TestRegistryUnknownVariant(t *testing.T) {
	_, err := New("erp-made-up", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter variant")
}

func TestRegisterCustomVariant(t *testing.T) {
	Register("test-custom", func(options map[string]string) (Adapter, error) {
		return &Acknowledge{}, nil
	})
	variant, err := New("test-custom", nil)
	require.NoError(t, err)
	assert.NotNil(t, variant)
}

func TestAcknowledgeReturnsReceipt(t *testing.T) {
	request := &fulfill.FulfillmentRequest{
		OrderID:          "order-9",
		PaymentReference: "0xdef",
		Items:            []fulfill.LineItem{{SKU: "sku-1", Quantity: 1}},
		Trigger:          fulfill.TriggerFinalized,
	}

	payload, err := (&Acknowledge{}).Fulfill(context.Background(), 8453, "0xSeller", request)
	require.NoError(t, err)

	var receipt map[string]string
	require.NoError(t, json.Unmarshal(payload, &receipt))
	assert.Equal(t, "accepted", receipt["status"])
	assert.Equal(t, "order-9", receipt["orderId"])
	assert.NotEmpty(t, receipt["receiptId"])
}
