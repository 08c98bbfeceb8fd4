// Package adapter models the upstream side's fulfillment behavior as a
// named capability. The run gate and dispatcher stay adapter-agnostic;
// deployments select a variant by name (an ERP connector creates a sales
// order, a code dispenser decrements a pool, and so on).
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	fulfill "github.com/openstall/fulfill"
)

// Adapter executes the adapter-specific side effect for one fulfillment
// request and returns the JSON payload sent back to the dispatcher.
type Adapter interface {
	Fulfill(ctx context.Context, chainID uint64, seller string, request *fulfill.FulfillmentRequest) (json.RawMessage, error)
}

// Factory builds an adapter variant from deployment options.
type Factory func(options map[string]string) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a variant available under name. Typically called from an
// init function in the variant's package.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New builds the variant registered under name.
func New(name string, options map[string]string) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter variant %q (have %v)", name, Names())
	}
	return factory(options)
}

// Names lists the registered variants, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("acknowledge", func(map[string]string) (Adapter, error) {
		return &Acknowledge{}, nil
	})
}

// Acknowledge is the built-in no-op variant: it accepts the obligation and
// returns a receipt, leaving the actual side effect to an out-of-band
// system. Useful for integration bring-up and as the test double.
type Acknowledge struct{}

type ackReceipt struct {
	Status    string `json:"status"`
	ReceiptID string `json:"receiptId"`
	OrderID   string `json:"orderId"`
}

// Fulfill returns an accepted receipt for the request.
func (*Acknowledge) Fulfill(_ context.Context, _ uint64, _ string, request *fulfill.FulfillmentRequest) (json.RawMessage, error) {
	return json.Marshal(ackReceipt{
		Status:    "accepted",
		ReceiptID: uuid.NewString(),
		OrderID:   request.OrderID,
	})
}
