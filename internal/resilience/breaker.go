// Package resilience wraps provider calls with a per-provider circuit
// breaker and transient-error retry.
//
// Breaker states:
//   - Closed: calls pass through; transient failures accumulate in a
//     sliding window and trip the circuit at the threshold
//   - Open: calls are rejected without touching the network until the
//     cooldown elapses
//   - HalfOpen: exactly one trial call is admitted; its outcome decides
//     between Closed and Open
package resilience

import (
	"sync"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig defines circuit breaker behavior.
type BreakerConfig struct {
	FailureThreshold int           // transient failures within Window before opening
	Window           time.Duration // sliding window for counting failures
	Cooldown         time.Duration // time in Open before admitting a trial
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is the state machine for a single provider. Transitions are
// linearizable: two concurrent half-open trials are never both admitted.
type Breaker struct {
	mu            sync.Mutex
	cfg           BreakerConfig
	state         State
	failures      []time.Time
	openedAt      time.Time
	trialInflight bool
	now           func() time.Time
	onChange      func(from, to State)
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Allow reports whether a call may proceed. In HalfOpen it admits exactly
// one trial; the trial slot is freed by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			b.trialInflight = true
			return nil
		}
		return domain.ErrCircuitOpen
	case StateHalfOpen:
		if b.trialInflight {
			return domain.ErrCircuitOpen
		}
		b.trialInflight = true
		return nil
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = nil
	case StateHalfOpen:
		b.trialInflight = false
		b.failures = nil
		b.transition(StateClosed)
	}
}

// Abandon frees a half-open trial slot without recording an outcome.
// Used when the call ended for reasons that say nothing about the
// provider's health: a caller deadline or a permanent request error.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInflight = false
}

// RecordFailure counts a transient failure. Permanent errors are the
// caller's fault and must not be recorded against the provider.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case StateClosed:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.failures = nil
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.trialInflight = false
		b.openedAt = now
		b.transition(StateOpen)
	}
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	b.failures = b.failures[i:]
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return len(b.failures)
}

// Manager owns one breaker per provider and reports state changes.
type Manager struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
	onChange func(provider string, from, to State)
}

type ManagerOption func(*Manager)

// WithStateChange registers a callback invoked on every circuit
// transition, keyed by provider name.
func WithStateChange(fn func(provider string, from, to State)) ManagerOption {
	return func(m *Manager) { m.onChange = fn }
}

func NewManager(cfg BreakerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the breaker for a provider, creating one on first use.
func (m *Manager) Get(provider string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[provider]; ok {
		return b
	}

	b := NewBreaker(m.cfg)
	if m.onChange != nil {
		fn := m.onChange
		b.onChange = func(from, to State) { fn(provider, from, to) }
	}
	m.breakers[provider] = b
	return b
}

// Healthy reports whether routing should still consider the provider:
// anything but an Open circuit that is still cooling down.
func (m *Manager) Healthy(provider string) bool {
	m.mu.Lock()
	b, ok := m.breakers[provider]
	m.mu.Unlock()
	if !ok {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

// States returns the current state of every known breaker.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]State, len(m.breakers))
	for name, b := range m.breakers {
		states[name] = b.State()
	}
	return states
}
