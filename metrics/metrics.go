// Package metrics exposes prometheus instrumentation for the dispatch
// pipeline. Collectors are registered on the default registry; serve them
// with promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal counts outbound dispatch attempts by outcome
	// (ok, blocked, upstream_error, transport_failed, payload_too_large).
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfill_dispatches_total",
		Help: "Outbound fulfillment dispatch attempts by outcome",
	}, []string{"outcome"})

	// DispatchDuration tracks end-to-end dispatch latency.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfill_dispatch_duration_seconds",
		Help:    "Outbound fulfillment dispatch latency",
		Buckets: prometheus.DefBuckets,
	})

	// BlockedTargetsTotal counts SSRF-guard rejections.
	BlockedTargetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfill_blocked_targets_total",
		Help: "Dispatches rejected by the private-address guard",
	})

	// GateResultsTotal counts run gate acquisition outcomes.
	GateResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfill_gate_results_total",
		Help: "Run gate acquisition results",
	}, []string{"result"})

	// AuthDenialsTotal counts inbound authorization denials by reason.
	AuthDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfill_auth_denials_total",
		Help: "Inbound caller authorization denials by reason",
	}, []string{"reason"})
)
