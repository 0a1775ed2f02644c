package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"principal", "provider", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_request_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_cost_usd_total",
			Help: "Total committed cost in USD",
		},
		[]string{"principal", "provider"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"principal"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"principal"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmgateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_provider_errors_total",
			Help: "Total number of provider call failures",
		},
		[]string{"provider"},
	)

	BudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_budget_rejections_total",
			Help: "Requests rejected because a budget was exceeded",
		},
		[]string{"principal"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"principal"},
	)
)

func RecordRateLimitHit(principal string) {
	RateLimitHits.WithLabelValues(principal).Inc()
}
