package metrics

import (
	"github.com/felipepmaragno/llm-gateway/internal/events"
)

// circuit states as gauge values
const (
	gaugeClosed   = 0
	gaugeHalfOpen = 1
	gaugeOpen     = 2
)

// Subscriber translates gateway events into prometheus series. Wire it
// into the bus at startup.
func Subscriber() events.Handler {
	return func(e events.Event) {
		switch e.Type {
		case events.CacheHit:
			CacheHits.WithLabelValues(e.Principal).Inc()
		case events.CacheMiss:
			CacheMisses.WithLabelValues(e.Principal).Inc()
		case events.ProviderCallSucceeded:
			RequestsTotal.WithLabelValues(e.Principal, e.Provider, "success").Inc()
			RequestDuration.WithLabelValues(e.Provider).Observe(e.Latency.Seconds())
			CostTotal.WithLabelValues(e.Principal, e.Provider).Add(e.CostUSD)
		case events.ProviderCallFailed:
			RequestsTotal.WithLabelValues(e.Principal, e.Provider, "error").Inc()
			ProviderErrors.WithLabelValues(e.Provider).Inc()
		case events.BudgetExceeded:
			BudgetRejections.WithLabelValues(e.Principal).Inc()
		case events.CircuitOpened:
			CircuitBreakerState.WithLabelValues(e.Provider).Set(gaugeOpen)
		case events.CircuitClosed:
			CircuitBreakerState.WithLabelValues(e.Provider).Set(gaugeClosed)
		}
	}
}
