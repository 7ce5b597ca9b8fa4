package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "joesources_pools_created_total",
		Help: "Connection pools opened, across all sources.",
	})

	PoolsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "joesources_pools_open",
		Help: "Connection pools currently cached.",
	})

	ProbeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joesources_probe_failures_total",
		Help: "Liveness probes that failed and evicted a pool.",
	}, []string{"kind"})

	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joesources_queries_total",
		Help: "Statements run against sources, by kind and outcome.",
	}, []string{"kind", "status"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "joesources_query_duration_seconds",
		Help:    "Time from connection borrow to last row materialised.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"kind"})

	FederationCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joesources_federation_calls_total",
		Help: "Federated operations, by operation and outcome.",
	}, []string{"operation", "status"})

	FederationRowsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joesources_federation_rows_fetched_total",
		Help: "Rows pulled into memory by federated operations.",
	}, []string{"operation"})
)
