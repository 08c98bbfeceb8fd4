// Package resolver turns payment lifecycle events into dispatch decisions.
// For each order line it re-resolves the upstream route, matches the offer's
// effective trigger against the event, and funnels the dispatch through the
// run gate so replays and concurrent triggers collapse into no-ops.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	fulfill "github.com/openstall/fulfill"
	"github.com/openstall/fulfill/metrics"
	"github.com/openstall/fulfill/rungate"
)

// OrderLine is one purchased line inside an order snapshot.
type OrderLine struct {
	SKU      string
	Quantity int
}

// Offer is the listing a line was matched against. Endpoint carries whatever
// the snapshot claimed; the resolver never dispatches to it.
type Offer struct {
	SKU      string
	Trigger  fulfill.Trigger
	Endpoint string
}

// Order is the immutable snapshot the resolver works from. Lines and Offers
// are index-aligned; malformed snapshots may disagree on length, so
// iteration stops at the shorter of the two.
type Order struct {
	ID               string
	PaymentReference string
	ChainID          uint64
	Seller           string
	Buyer            *string
	Lines            []OrderLine
	Offers           []Offer
}

// OrderSource loads order snapshots by payment reference. It is an external
// collaborator owned by the marketplace core.
type OrderSource interface {
	OrderByPaymentReference(ctx context.Context, paymentReference string) (*Order, error)
}

// Gate is the subset of the run gate the resolver needs.
type Gate interface {
	TryAcquire(ctx context.Context, key rungate.RunKey, orderID string) (rungate.AcquireResult, error)
	MarkOk(ctx context.Context, key rungate.RunKey) error
	MarkError(ctx context.Context, key rungate.RunKey, detail string) error
}

// Dispatcher sends one fulfillment request upstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, request *fulfill.FulfillmentRequest) (json.RawMessage, error)
}

// LifecycleEvent is one confirmed/finalized milestone observed on chain.
type LifecycleEvent struct {
	Trigger          fulfill.Trigger
	PaymentReference string
}

// Outcome tags what happened to one order line.
type Outcome string

const (
	// OutcomeDispatched means the adapter was called and reported success.
	OutcomeDispatched Outcome = "dispatched"
	// OutcomeSkippedNoRoute means no route exists for the line's SKU.
	OutcomeSkippedNoRoute Outcome = "skipped_no_route"
	// OutcomeSkippedTrigger means the offer fires on a different
	// lifecycle event.
	OutcomeSkippedTrigger Outcome = "skipped_trigger"
	// OutcomeReplayed means the run gate reported the identity as already
	// processed or in flight; a deterministic no-op, not an error.
	OutcomeReplayed Outcome = "replayed"
	// OutcomeFailed means dispatch was attempted and failed; the run is
	// recorded as error and may be retried later.
	OutcomeFailed Outcome = "failed"
)

// LineOutcome is the tagged result for one line.
type LineOutcome struct {
	Index   int
	SKU     string
	Outcome Outcome
	Detail  string
}

// BatchReport aggregates a lifecycle event's per-line outcomes.
type BatchReport struct {
	PaymentReference string
	Trigger          fulfill.Trigger
	Lines            []LineOutcome
}

// Dispatched reports how many lines resulted in an upstream call.
func (r *BatchReport) Dispatched() int {
	n := 0
	for _, line := range r.Lines {
		if line.Outcome == OutcomeDispatched {
			n++
		}
	}
	return n
}

// Resolver wires the order source, route table, gate, dispatcher, and
// outbox together.
type Resolver struct {
	orders     OrderSource
	routes     RouteTable
	gate       Gate
	dispatcher Dispatcher
	outbox     Outbox
	logger     *zap.Logger
}

// Config collects the resolver's collaborators.
type Config struct {
	Orders     OrderSource
	Routes     RouteTable
	Gate       Gate
	Dispatcher Dispatcher
	Outbox     Outbox
	Logger     *zap.Logger
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		orders:     cfg.Orders,
		routes:     cfg.Routes,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		outbox:     cfg.Outbox,
		logger:     logger,
	}
}

// HandleLifecycleEvent evaluates every order line against the event and
// dispatches the ones that are due. Iteration is sequential and best-effort:
// one line's failure is recorded in the report and never halts its siblings.
func (r *Resolver) HandleLifecycleEvent(ctx context.Context, event LifecycleEvent) (*BatchReport, error) {
	if !event.Trigger.Valid() {
		return nil, fulfill.NewDispatchError(fulfill.ErrCodeValidationFailed,
			fmt.Sprintf("unknown lifecycle trigger %q", event.Trigger))
	}

	order, err := r.orders.OrderByPaymentReference(ctx, event.PaymentReference)
	if err != nil {
		return nil, fmt.Errorf("load order for payment %s: %w", event.PaymentReference, err)
	}
	return r.Process(ctx, event, order)
}

// Process evaluates an already-loaded order snapshot against the event.
// Deployments whose event source pushes the snapshot inline use this
// directly instead of HandleLifecycleEvent.
func (r *Resolver) Process(ctx context.Context, event LifecycleEvent, order *Order) (*BatchReport, error) {
	if !event.Trigger.Valid() {
		return nil, fulfill.NewDispatchError(fulfill.ErrCodeValidationFailed,
			fmt.Sprintf("unknown lifecycle trigger %q", event.Trigger))
	}
	if order == nil {
		return nil, fulfill.NewDispatchError(fulfill.ErrCodeValidationFailed,
			fmt.Sprintf("no order snapshot for payment %s", event.PaymentReference))
	}

	report := &BatchReport{
		PaymentReference: event.PaymentReference,
		Trigger:          event.Trigger,
	}

	// Defensive bound against malformed snapshots.
	n := min(len(order.Lines), len(order.Offers))
	for i := range n {
		outcome := r.handleLine(ctx, event, order, i)
		report.Lines = append(report.Lines, outcome)
	}
	return report, nil
}

func (r *Resolver) handleLine(ctx context.Context, event LifecycleEvent, order *Order, index int) LineOutcome {
	line := order.Lines[index]
	offer := order.Offers[index]
	logger := r.logger.With(
		zap.String("paymentReference", event.PaymentReference),
		zap.String("orderId", order.ID),
		zap.Int("line", index),
		zap.String("sku", line.SKU))

	endpoint, ok, err := r.routes.Resolve(ctx, RouteKey{
		ChainID:    order.ChainID,
		Seller:     order.Seller,
		SKU:        line.SKU,
		Capability: fulfill.CapabilityFulfillment,
	})
	if err != nil {
		logger.Error("route lookup failed", zap.Error(err))
		return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeFailed, Detail: err.Error()}
	}
	if !ok {
		logger.Debug("no fulfillment route for line, skipping")
		return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeSkippedNoRoute}
	}

	if fulfill.EffectiveTrigger(offer.Trigger) != event.Trigger {
		return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeSkippedTrigger}
	}

	key := rungate.RunKey{
		ChainID:          order.ChainID,
		Seller:           order.Seller,
		PaymentReference: event.PaymentReference,
	}

	result, err := r.gate.TryAcquire(ctx, key, order.ID)
	metrics.GateResultsTotal.WithLabelValues(result.String()).Inc()
	if err != nil {
		logger.Error("run gate unavailable", zap.Error(err))
		return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeFailed, Detail: err.Error()}
	}

	switch result {
	case rungate.AlreadyProcessed, rungate.InProgress:
		logger.Debug("idempotency replay, skipping dispatch", zap.Stringer("gate", result))
		return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeReplayed, Detail: result.String()}
	case rungate.Unavailable:
		return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeFailed, Detail: "run ledger unavailable"}
	}

	request := &fulfill.FulfillmentRequest{
		OrderID:          order.ID,
		PaymentReference: event.PaymentReference,
		Buyer:            order.Buyer,
		Items:            []fulfill.LineItem{{SKU: line.SKU, Quantity: line.Quantity}},
		Trigger:          event.Trigger,
	}

	response, err := r.dispatcher.Dispatch(ctx, endpoint, request)
	if err != nil {
		logger.Warn("dispatch failed", zap.String("endpoint", endpoint), zap.Error(err))
		if markErr := r.gate.MarkError(ctx, key, err.Error()); markErr != nil {
			logger.Error("failed to record dispatch error", zap.Error(markErr))
		}
		return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeFailed, Detail: err.Error()}
	}

	if err := r.gate.MarkOk(ctx, key); err != nil {
		logger.Error("failed to record dispatch success", zap.Error(err))
	}
	if r.outbox != nil {
		entry := NewOutboxEntry(order.ID, event.PaymentReference, order.ChainID, order.Seller, endpoint, response)
		if err := r.outbox.Append(ctx, entry); err != nil {
			logger.Error("failed to append outbox entry", zap.Error(err))
		}
	}

	logger.Info("fulfillment dispatched", zap.String("endpoint", endpoint))
	return LineOutcome{Index: index, SKU: line.SKU, Outcome: OutcomeDispatched}
}
