// Package events is the gateway's lifecycle event bus: single writer per
// request, many subscribers (metrics, logs, notifiers). Events are
// transient; nothing here persists them.
package events

import "time"

type Type string

const (
	RequestStarted        Type = "request_started"
	CacheHit              Type = "cache_hit"
	CacheMiss             Type = "cache_miss"
	ProviderCallSucceeded Type = "provider_call_succeeded"
	ProviderCallFailed    Type = "provider_call_failed"
	CircuitOpened         Type = "circuit_opened"
	CircuitClosed         Type = "circuit_closed"
	BudgetExceeded        Type = "budget_exceeded"
)

// Event carries the fields relevant to its type; unrelated fields stay
// zero. RequestID is set on every event except circuit transitions,
// which are provider-scoped.
type Event struct {
	Type      Type
	Timestamp time.Time

	RequestID  string
	Principal  string
	Provider   string
	Capability string

	CostUSD float64
	Latency time.Duration
	Err     error
}
