// internal/metrics/metrics.go

// Package metrics holds the prometheus collectors shared by the flow
// components. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlowTransitions counts reducer dispatches by origin step and event type.
	FlowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_transitions_total",
			Help: "Flow events dispatched, by origin step and event type.",
		},
		[]string{"from", "event"},
	)

	FlowCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_completions_total",
			Help: "Flows that reached completion, by outcome.",
		},
		[]string{"outcome"},
	)

	DiscoveryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_discovery_requests_total",
			Help: "Account discovery lookups, by source (cache, network, skipped) and result.",
		},
		[]string{"source", "result"},
	)

	DiscoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authflow_discovery_duration_seconds",
			Help:    "Latency of uncached account discovery.",
			Buckets: prometheus.DefBuckets,
		},
	)

	LinkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_link_operations_total",
			Help: "Link and unlink operations, by operation and result kind.",
		},
		[]string{"op", "result"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authflow_upstream_requests_total",
			Help: "Requests to external collaborator services, by service and status.",
		},
		[]string{"service", "status"},
	)

	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authflow_active_flows",
			Help: "Flows currently held by the server.",
		},
	)
)
