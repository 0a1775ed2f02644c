package ledger

import (
	"log/slog"
	"sync"
	"time"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	Principal  string
	Level      AlertLevel
	LimitUSD   float64
	SpentUSD   float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(alert Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.8, Critical: 0.95}
}

// Monitor watches budget consumption and fires threshold alerts. Alerts
// are deduplicated per (principal, level) so crossing a threshold fires
// once, not on every request.
type Monitor struct {
	mu         sync.Mutex
	ledger     *Ledger
	thresholds Thresholds
	handlers   []AlertHandler
	lastAlerts map[string]AlertLevel
}

func NewMonitor(l *Ledger, thresholds Thresholds) *Monitor {
	return &Monitor{
		ledger:     l,
		thresholds: thresholds,
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Check evaluates the principal's budget and dispatches at most one alert
// per level crossing. Returns the alert fired, if any.
func (m *Monitor) Check(principal string) *Alert {
	limit := m.ledger.Limit(principal)
	if limit <= 0 {
		return nil
	}
	spent := m.ledger.Spent(principal)
	percentage := spent / limit

	var level AlertLevel
	switch {
	case percentage >= 1.0:
		level = AlertLevelExceeded
	case percentage >= m.thresholds.Critical:
		level = AlertLevelCritical
	case percentage >= m.thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.mu.Lock()
		delete(m.lastAlerts, principal)
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	if last, ok := m.lastAlerts[principal]; ok && last == level {
		m.mu.Unlock()
		return nil
	}
	m.lastAlerts[principal] = level
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	alert := &Alert{
		Principal:  principal,
		Level:      level,
		LimitUSD:   limit,
		SpentUSD:   spent,
		Percentage: percentage * 100,
		Timestamp:  time.Now(),
	}

	for _, handler := range handlers {
		handler(*alert)
	}

	return alert
}

// LogAlertHandler is the default alert sink.
func LogAlertHandler(alert Alert) {
	slog.Warn("budget alert",
		"principal", alert.Principal,
		"level", alert.Level,
		"limit_usd", alert.LimitUSD,
		"spent_usd", alert.SpentUSD,
		"percentage", alert.Percentage,
	)
}
