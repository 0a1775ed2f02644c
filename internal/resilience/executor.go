package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
)

// RetryConfig bounds the retry loop applied on transient errors.
type RetryConfig struct {
	MaxRetries  int           // retries after the first attempt
	BackoffBase time.Duration // initial backoff interval
	MaxInterval time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BackoffBase: 200 * time.Millisecond,
		MaxInterval: 5 * time.Second,
	}
}

// Executor runs provider calls through the circuit breaker and the retry
// policy. Retries happen only on transient errors (unknown errors get one
// retry, then surface); permanent errors fail immediately. All attempts
// share the caller's deadline.
type Executor struct {
	breakers *Manager
	retry    RetryConfig
}

func NewExecutor(breakers *Manager, retry RetryConfig) *Executor {
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.BackoffBase <= 0 {
		retry.BackoffBase = DefaultRetryConfig().BackoffBase
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = DefaultRetryConfig().MaxInterval
	}
	return &Executor{breakers: breakers, retry: retry}
}

// Do executes fn for the named provider. It returns the classified error
// of the last attempt, domain.ErrCircuitOpen when the breaker rejects the
// call, or domain.ErrDeadlineExceeded when the context expires.
func (e *Executor) Do(ctx context.Context, provider string, fn func(ctx context.Context) (*domain.Response, error)) (*domain.Response, error) {
	b := e.breakers.Get(provider)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.retry.BackoffBase
	expo.MaxInterval = e.retry.MaxInterval
	expo.MaxElapsedTime = 0 // the context deadline bounds the loop

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, deadlineErr(err)
		}

		if err := b.Allow(); err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, provider)
		}

		resp, err := e.attempt(ctx, provider, fn)
		if err == nil {
			b.RecordSuccess()
			return resp, nil
		}

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Abandoned mid-call; the breaker is not charged for the
			// caller giving up.
			b.Abandon()
			return nil, deadlineErr(err)
		}

		class := domain.ClassOf(err)
		if class == domain.ClassPermanent {
			// A permanent error faults the request, not the provider.
			// Free any half-open trial slot so the next call can be
			// admitted as the trial.
			b.Abandon()
			return nil, err
		}

		b.RecordFailure()
		lastErr = err

		if class == domain.ClassUnknown && attempt >= 1 {
			break
		}
		if attempt >= e.retry.MaxRetries {
			break
		}

		select {
		case <-time.After(expo.NextBackOff()):
		case <-ctx.Done():
			return nil, deadlineErr(ctx.Err())
		}
	}

	return nil, lastErr
}

// attempt isolates a single call so adapter panics become classified
// errors instead of tearing down the request goroutine.
func (e *Executor) attempt(ctx context.Context, provider string, fn func(ctx context.Context) (*domain.Response, error)) (resp *domain.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewUnknownError(provider, fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return fn(ctx)
}

func deadlineErr(cause error) error {
	return fmt.Errorf("%w: %v", domain.ErrDeadlineExceeded, cause)
}
