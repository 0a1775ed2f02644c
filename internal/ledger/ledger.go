// Package ledger estimates call costs, enforces per-principal budgets and
// records usage. Budget enforcement is reservation-based: the facade
// reserves the estimated cost before dispatch, then commits the actual
// cost on success or rolls the reservation back on failure.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/registry"
	"github.com/felipepmaragno/llm-gateway/internal/tokens"
)

// Period scopes a budget window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// periodStart truncates t to the start of its budget window (UTC).
func (p Period) periodStart(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// Budget configures one principal's spending limit.
type Budget struct {
	Principal string
	LimitUSD  float64
	Period    Period
}

type budgetState struct {
	limit       float64
	period      Period
	spent       float64
	windowStart time.Time
}

// Ledger owns budget state and pricing. Reserve's check-then-mutate runs
// under one lock so two concurrent requests cannot both pass a check only
// one of them can satisfy. Principals without a configured budget are
// unmetered: reservations succeed and spend is tracked from zero.
type Ledger struct {
	mu        sync.Mutex
	budgets   map[string]*budgetState
	estimator *tokens.Estimator
	now       func() time.Time

	// defaultMaxTokens prices requests that leave max_tokens unset.
	defaultMaxTokens int
}

func New(estimator *tokens.Estimator, budgets []Budget) *Ledger {
	l := &Ledger{
		budgets:          make(map[string]*budgetState),
		estimator:        estimator,
		now:              time.Now,
		defaultMaxTokens: 1024,
	}
	for _, b := range budgets {
		period := b.Period
		if period == "" {
			period = PeriodMonthly
		}
		l.budgets[b.Principal] = &budgetState{
			limit:       b.LimitUSD,
			period:      period,
			windowStart: period.periodStart(l.now()),
		}
	}
	return l
}

// EstimateCost prices a request against one provider's token rates using
// the estimated prompt tokens and the requested output budget. It also
// satisfies routing.CostEstimator.
func (l *Ledger) EstimateCost(req domain.Request, desc registry.Descriptor) float64 {
	inTokens := l.estimator.CountMessages(req.Messages)
	outTokens := req.MaxTokens
	if outTokens <= 0 {
		outTokens = l.defaultMaxTokens
	}
	return tokenCost(inTokens, outTokens, desc)
}

// ActualCost prices the reported usage of a completed call.
func (l *Ledger) ActualCost(desc registry.Descriptor, usage domain.TokenUsage) float64 {
	return tokenCost(usage.Input, usage.Output, desc)
}

func tokenCost(inTokens, outTokens int, desc registry.Descriptor) float64 {
	return float64(inTokens)/1000*desc.CostPer1KInput +
		float64(outTokens)/1000*desc.CostPer1KOutput
}

// Reserve provisionally deducts cost from the principal's budget. It
// fails with domain.ErrBudgetExceeded, without mutating state, when the
// reservation would cross the limit.
func (l *Ledger) Reserve(principal string, cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[principal]
	if !ok {
		b = &budgetState{limit: -1, period: PeriodMonthly, windowStart: PeriodMonthly.periodStart(l.now())}
		l.budgets[principal] = b
	}
	l.rollover(b)

	if b.limit >= 0 && b.spent+cost > b.limit {
		return fmt.Errorf("%w: principal %s spent %.4f of %.4f, reservation %.4f",
			domain.ErrBudgetExceeded, principal, b.spent, b.limit, cost)
	}

	b.spent += cost
	return nil
}

// Commit replaces the reservation with the actual cost after a
// successful call. Actual usage may differ from the estimate.
func (l *Ledger) Commit(principal string, reserved, actual float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[principal]
	if !ok {
		return
	}
	l.rollover(b)

	b.spent += actual - reserved
	if b.spent < 0 {
		b.spent = 0
	}
}

// Rollback returns a reservation after every candidate failed.
func (l *Ledger) Rollback(principal string, reserved float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[principal]
	if !ok {
		return
	}
	l.rollover(b)

	b.spent -= reserved
	if b.spent < 0 {
		b.spent = 0
	}
}

// Spent reports the principal's spend in the current period.
func (l *Ledger) Spent(principal string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[principal]
	if !ok {
		return 0
	}
	l.rollover(b)
	return b.spent
}

// Limit reports the principal's configured limit, or -1 when unmetered.
func (l *Ledger) Limit(principal string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[principal]
	if !ok {
		return -1
	}
	return b.limit
}

// rollover resets spend when the period boundary has been crossed since
// the last access. Detection is lazy; no background timer runs.
func (l *Ledger) rollover(b *budgetState) {
	start := b.period.periodStart(l.now())
	if start.After(b.windowStart) {
		b.windowStart = start
		b.spent = 0
	}
}
