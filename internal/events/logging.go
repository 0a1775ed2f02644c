package events

import "log/slog"

// LogHandler mirrors the event stream into structured logs.
func LogHandler(e Event) {
	attrs := []any{
		"request_id", e.RequestID,
		"principal", e.Principal,
		"provider", e.Provider,
	}

	switch e.Type {
	case ProviderCallFailed:
		slog.Warn(string(e.Type), append(attrs, "error", e.Err)...)
	case BudgetExceeded:
		slog.Warn(string(e.Type), attrs...)
	case CircuitOpened:
		slog.Warn(string(e.Type), "provider", e.Provider)
	case CircuitClosed:
		slog.Info(string(e.Type), "provider", e.Provider)
	case ProviderCallSucceeded:
		slog.Info(string(e.Type), append(attrs,
			"cost_usd", e.CostUSD,
			"latency_ms", e.Latency.Milliseconds(),
		)...)
	default:
		slog.Debug(string(e.Type), attrs...)
	}
}
