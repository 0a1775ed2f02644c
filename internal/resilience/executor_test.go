package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:  maxRetries,
		BackoffBase: time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
	}
}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	e := NewExecutor(NewManager(DefaultBreakerConfig()), fastRetry(3))

	calls := 0
	resp, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		return &domain.Response{Content: "ok"}, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected content ok, got %q", resp.Content)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	e := NewExecutor(NewManager(DefaultBreakerConfig()), fastRetry(3))

	calls := 0
	resp, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		if calls < 3 {
			return nil, domain.NewTransientError("openai", errors.New("rate limited"))
		}
		return &domain.Response{Content: "ok"}, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || calls != 3 {
		t.Errorf("expected success on attempt 3, calls=%d", calls)
	}
}

func TestExecutor_TransientExhaustsRetries(t *testing.T) {
	e := NewExecutor(NewManager(DefaultBreakerConfig()), fastRetry(2))

	calls := 0
	cause := domain.NewTransientError("openai", errors.New("upstream 503"))
	_, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		return nil, cause
	})

	if calls != 3 {
		t.Errorf("expected initial attempt plus 2 retries, got %d calls", calls)
	}
	if domain.ClassOf(err) != domain.ClassTransient {
		t.Errorf("expected transient error surfaced, got %v", err)
	}
}

func TestExecutor_PermanentFailsImmediately(t *testing.T) {
	e := NewExecutor(NewManager(DefaultBreakerConfig()), fastRetry(3))

	calls := 0
	_, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		return nil, domain.NewPermanentError("openai", errors.New("invalid api key"))
	})

	if calls != 1 {
		t.Errorf("expected no retries on permanent error, got %d calls", calls)
	}
	if domain.ClassOf(err) != domain.ClassPermanent {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestExecutor_PermanentDoesNotTripBreaker(t *testing.T) {
	m := NewManager(BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: 30 * time.Second})
	e := NewExecutor(m, fastRetry(0))

	e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		return nil, domain.NewPermanentError("openai", errors.New("bad request"))
	})

	if m.Get("openai").State() != StateClosed {
		t.Error("expected permanent errors not to count against the breaker")
	}
}

func TestExecutor_PermanentDuringHalfOpenFreesTrial(t *testing.T) {
	m := NewManager(BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: 30 * time.Second})
	b := m.Get("openai")
	now := time.Now()
	b.now = func() time.Time { return now }
	e := NewExecutor(m, fastRetry(0))

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("expected breaker open after threshold failure")
	}

	now = now.Add(31 * time.Second)

	_, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		return nil, domain.NewPermanentError("openai", errors.New("bad request"))
	})
	if domain.ClassOf(err) != domain.ClassPermanent {
		t.Fatalf("expected permanent error surfaced, got %v", err)
	}

	calls := 0
	resp, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		return &domain.Response{Content: "ok"}, nil
	})
	if err != nil {
		t.Fatalf("expected next call admitted as the trial, got %v", err)
	}
	if calls != 1 || resp.Content != "ok" {
		t.Errorf("expected trial call to reach the adapter, calls=%d", calls)
	}
	if b.State() != StateClosed {
		t.Errorf("expected trial success to close the circuit, got %v", b.State())
	}
}

func TestExecutor_UnknownRetriedOnce(t *testing.T) {
	e := NewExecutor(NewManager(DefaultBreakerConfig()), fastRetry(5))

	calls := 0
	_, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		return nil, errors.New("inscrutable failure")
	})

	if calls != 2 {
		t.Errorf("expected unknown error retried exactly once, got %d calls", calls)
	}
	if err == nil {
		t.Error("expected error surfaced")
	}
}

func TestExecutor_PanicBecomesClassifiedError(t *testing.T) {
	e := NewExecutor(NewManager(DefaultBreakerConfig()), fastRetry(5))

	calls := 0
	_, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		panic("adapter bug")
	})

	if err == nil {
		t.Fatal("expected error from panicking adapter")
	}
	if domain.ClassOf(err) != domain.ClassUnknown {
		t.Errorf("expected panic classified as unknown, got %v", domain.ClassOf(err))
	}
	if calls != 2 {
		t.Errorf("expected unknown retry budget applied to panics, got %d calls", calls)
	}
}

func TestExecutor_RejectsWhenCircuitOpen(t *testing.T) {
	m := NewManager(BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: 30 * time.Second})
	m.Get("openai").RecordFailure()

	e := NewExecutor(m, fastRetry(3))

	calls := 0
	_, err := e.Do(context.Background(), "openai", func(ctx context.Context) (*domain.Response, error) {
		calls++
		return &domain.Response{}, nil
	})

	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected adapter untouched while open, got %d calls", calls)
	}
}

func TestExecutor_DeadlineExpiredBeforeCall(t *testing.T) {
	e := NewExecutor(NewManager(DefaultBreakerConfig()), fastRetry(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Do(ctx, "openai", func(ctx context.Context) (*domain.Response, error) {
		t.Fatal("adapter must not be called after cancellation")
		return nil, nil
	})

	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Errorf("expected ErrDeadlineExceeded, got %v", err)
	}
}

func TestExecutor_DeadlineDuringCall(t *testing.T) {
	m := NewManager(BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: 30 * time.Second})
	e := NewExecutor(m, fastRetry(3))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Do(ctx, "slow", func(ctx context.Context) (*domain.Response, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return &domain.Response{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Errorf("expected ErrDeadlineExceeded, got %v", err)
	}
	// Giving up says nothing about provider health.
	if m.Get("slow").State() != StateClosed {
		t.Error("expected breaker unaffected by caller deadline")
	}
}
