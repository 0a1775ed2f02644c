package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/cache"
	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/events"
	"github.com/felipepmaragno/llm-gateway/internal/ledger"
	"github.com/felipepmaragno/llm-gateway/internal/registry"
	"github.com/felipepmaragno/llm-gateway/internal/resilience"
	"github.com/felipepmaragno/llm-gateway/internal/routing"
	"github.com/felipepmaragno/llm-gateway/internal/tokens"
)

type fakeAdapter struct {
	name string

	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req domain.Request) (*domain.Response, error)
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Generate(ctx context.Context, req domain.Request) (*domain.Response, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.fn(ctx, req)
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func succeeding(name, content string) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		fn: func(ctx context.Context, req domain.Request) (*domain.Response, error) {
			return &domain.Response{
				Content: content,
				Usage:   domain.TokenUsage{Input: 1000, Output: 10, Total: 1010},
			}, nil
		},
	}
}

func failing(name string, err error) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		fn: func(ctx context.Context, req domain.Request) (*domain.Response, error) {
			return nil, err
		},
	}
}

type fixture struct {
	gw       *Gateway
	reg      *registry.Registry
	led      *ledger.Ledger
	breakers *resilience.Manager

	mu     sync.Mutex
	events []events.Event
}

func (f *fixture) eventTypes() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]events.Type, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) hasEvent(want events.Type) bool {
	for _, got := range f.eventTypes() {
		if got == want {
			return true
		}
	}
	return false
}

type fixtureOptions struct {
	budgets    []ledger.Budget
	breaker    resilience.BreakerConfig
	retry      resilience.RetryConfig
	descriptor func(name string) registry.Descriptor
}

// Output tokens are priced at $1 each so test budgets read naturally:
// max_tokens=20 reserves exactly 20.
func defaultDescriptor(name string) registry.Descriptor {
	return registry.Descriptor{
		Name:            name,
		Capabilities:    []domain.Capability{domain.CapabilityChat},
		CostPer1KInput:  0,
		CostPer1KOutput: 1000,
	}
}

func newFixture(t *testing.T, opts fixtureOptions, adapters ...*fakeAdapter) *fixture {
	t.Helper()

	if opts.breaker.FailureThreshold == 0 {
		opts.breaker = resilience.BreakerConfig{FailureThreshold: 5, Window: time.Minute, Cooldown: 30 * time.Second}
	}
	if opts.retry.BackoffBase == 0 {
		opts.retry = resilience.RetryConfig{MaxRetries: 0, BackoffBase: time.Millisecond, MaxInterval: time.Millisecond}
	}
	if opts.descriptor == nil {
		opts.descriptor = defaultDescriptor
	}

	f := &fixture{}

	breakers := resilience.NewManager(opts.breaker, resilience.WithStateChange(func(name string, from, to resilience.State) {
		var typ events.Type
		switch to {
		case resilience.StateOpen:
			typ = events.CircuitOpened
		case resilience.StateClosed:
			typ = events.CircuitClosed
		default:
			return
		}
		f.mu.Lock()
		f.events = append(f.events, events.Event{Type: typ, Provider: name})
		f.mu.Unlock()
	}))

	reg := registry.New(registry.WithHealth(breakers.Healthy))
	for _, a := range adapters {
		if err := reg.Register(opts.descriptor(a.name), a); err != nil {
			t.Fatalf("register %s: %v", a.name, err)
		}
	}

	led := ledger.New(tokens.NewEstimator(), opts.budgets)

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})

	strategy, err := routing.ForName(routing.StrategyCostOptimal, led, routing.NewLatencyTracker(8))
	if err != nil {
		t.Fatal(err)
	}

	f.gw = New(Config{
		Registry: reg,
		Cache:    cache.NewInMemoryCache(64),
		CacheTTL: time.Minute,
		Executor: resilience.NewExecutor(breakers, opts.retry),
		Strategy: strategy,
		Ledger:   led,
		Tracker:  ledger.NewInMemoryTracker(),
		Latency:  routing.NewLatencyTracker(8),
		Bus:      bus,
	})
	f.reg = reg
	f.led = led
	f.breakers = breakers
	return f
}

func chatRequest(principal string) domain.Request {
	return domain.Request{
		Principal:  principal,
		Capability: domain.CapabilityChat,
		Messages:   []domain.Message{{Role: "user", Content: "hello"}},
		MaxTokens:  20,
	}
}

func TestComplete_RejectsInvalidRequest(t *testing.T) {
	a := succeeding("a", "hi")
	f := newFixture(t, fixtureOptions{}, a)

	cases := []struct {
		name string
		req  domain.Request
	}{
		{"missing principal", domain.Request{Capability: domain.CapabilityChat, Messages: []domain.Message{{Role: "user", Content: "x"}}}},
		{"missing capability", domain.Request{Principal: "p", Messages: []domain.Message{{Role: "user", Content: "x"}}}},
		{"no messages", domain.Request{Principal: "p", Capability: domain.CapabilityChat}},
		{"empty content", domain.Request{Principal: "p", Capability: domain.CapabilityChat, Messages: []domain.Message{{Role: "user"}}}},
		{"negative max_tokens", func() domain.Request {
			r := chatRequest("p")
			r.MaxTokens = -1
			return r
		}()},
		{"temperature out of range", func() domain.Request {
			r := chatRequest("p")
			temp := 2.5
			r.Temperature = &temp
			return r
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.gw.Complete(context.Background(), tc.req)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	if a.callCount() != 0 {
		t.Errorf("expected no provider calls for invalid requests, got %d", a.callCount())
	}
}

func TestComplete_Success(t *testing.T) {
	a := succeeding("a", "the answer")
	f := newFixture(t, fixtureOptions{}, a)

	resp, err := f.gw.Complete(context.Background(), chatRequest("team-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != "the answer" {
		t.Errorf("expected content, got %q", resp.Content)
	}
	if resp.Provider != "a" {
		t.Errorf("expected provider a, got %q", resp.Provider)
	}
	if resp.Cached {
		t.Error("expected first response uncached")
	}
	if resp.RequestID == "" {
		t.Error("expected a request ID to be assigned")
	}

	// The committed spend is the actual cost: 10 output tokens at $1.
	if spent := f.led.Spent("team-a"); spent != 10 {
		t.Errorf("expected spent 10, got %v", spent)
	}

	if !f.hasEvent(events.ProviderCallSucceeded) {
		t.Errorf("expected ProviderCallSucceeded event, got %v", f.eventTypes())
	}
}

func TestComplete_CacheIdempotence(t *testing.T) {
	a := succeeding("a", "stable answer")
	f := newFixture(t, fixtureOptions{}, a)

	req := chatRequest("team-a")

	first, err := f.gw.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spentAfterFirst := f.led.Spent("team-a")

	second, err := f.gw.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.Content != first.Content {
		t.Errorf("expected identical content, got %q vs %q", first.Content, second.Content)
	}
	if !second.Cached {
		t.Error("expected second response served from cache")
	}
	if a.callCount() != 1 {
		t.Errorf("expected single provider call, got %d", a.callCount())
	}
	if spent := f.led.Spent("team-a"); spent != spentAfterFirst {
		t.Errorf("expected cache hit to cost nothing: spend %v -> %v", spentAfterFirst, spent)
	}
	if !f.hasEvent(events.CacheHit) {
		t.Errorf("expected CacheHit event, got %v", f.eventTypes())
	}
}

func TestComplete_FallbackOnPermanentError(t *testing.T) {
	a := failing("a", domain.NewPermanentError("a", errors.New("model not supported")))
	b := succeeding("b", "fallback answer")

	// a is cheaper so it orders first.
	f := newFixture(t, fixtureOptions{
		descriptor: func(name string) registry.Descriptor {
			d := defaultDescriptor(name)
			if name == "b" {
				d.CostPer1KOutput = 2000
			}
			return d
		},
	}, a, b)

	resp, err := f.gw.Complete(context.Background(), chatRequest("team-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Provider != "b" {
		t.Errorf("expected fallback to b, got %q", resp.Provider)
	}
	if a.callCount() != 1 {
		t.Errorf("expected a called once without retries, got %d", a.callCount())
	}
	if !f.hasEvent(events.ProviderCallFailed) {
		t.Errorf("expected ProviderCallFailed for a, got %v", f.eventTypes())
	}
}

func TestComplete_BudgetExceededAborts(t *testing.T) {
	a := succeeding("a", "hi")
	b := succeeding("b", "hi")
	f := newFixture(t, fixtureOptions{
		budgets: []ledger.Budget{{Principal: "team-a", LimitUSD: 100, Period: ledger.PeriodMonthly}},
	}, a, b)

	f.led.Reserve("team-a", 90)

	// max_tokens=20 estimates a cost of 20 against the 10 remaining.
	_, err := f.gw.Complete(context.Background(), chatRequest("team-a"))
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}

	if spent := f.led.Spent("team-a"); spent != 90 {
		t.Errorf("expected spend unchanged at 90, got %v", spent)
	}
	if a.callCount() != 0 || b.callCount() != 0 {
		t.Error("expected no provider calls when the budget rejects")
	}
	if !f.hasEvent(events.BudgetExceeded) {
		t.Errorf("expected BudgetExceeded event, got %v", f.eventTypes())
	}
}

func TestComplete_AllProvidersFailed(t *testing.T) {
	a := failing("a", domain.NewTransientError("a", errors.New("timeout")))
	b := failing("b", domain.NewPermanentError("b", errors.New("bad model")))
	f := newFixture(t, fixtureOptions{}, a, b)

	_, err := f.gw.Complete(context.Background(), chatRequest("team-a"))

	var allFailed *domain.AllProvidersFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	if len(allFailed.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(allFailed.Attempts))
	}

	// Every reservation was rolled back.
	if spent := f.led.Spent("team-a"); spent != 0 {
		t.Errorf("expected spend rolled back to 0, got %v", spent)
	}
}

func TestComplete_NoCapableProvider(t *testing.T) {
	a := succeeding("a", "hi")
	f := newFixture(t, fixtureOptions{}, a)

	req := chatRequest("team-a")
	req.Capability = domain.CapabilityEmbedding

	_, err := f.gw.Complete(context.Background(), req)

	var allFailed *domain.AllProvidersFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	if len(allFailed.Attempts) != 0 {
		t.Errorf("expected no attempts, got %d", len(allFailed.Attempts))
	}
}

func TestComplete_SkipsSaturatedProvider(t *testing.T) {
	a := succeeding("a", "hi from a")
	b := succeeding("b", "hi from b")
	f := newFixture(t, fixtureOptions{
		descriptor: func(name string) registry.Descriptor {
			d := defaultDescriptor(name)
			if name == "a" {
				d.MaxConcurrency = 1
			} else {
				d.CostPer1KOutput = 2000
			}
			return d
		},
	}, a, b)

	// Saturate a.
	release, err := f.reg.Reserve("a")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	resp, err := f.gw.Complete(context.Background(), chatRequest("team-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("expected fallback to b while a is saturated, got %q", resp.Provider)
	}
	if a.callCount() != 0 {
		t.Errorf("expected saturated provider skipped, got %d calls", a.callCount())
	}
}

func TestComplete_PinnedProviderFirst(t *testing.T) {
	a := succeeding("a", "from a")
	b := succeeding("b", "from b")
	f := newFixture(t, fixtureOptions{
		descriptor: func(name string) registry.Descriptor {
			d := defaultDescriptor(name)
			if name == "b" {
				d.CostPer1KOutput = 2000 // b loses on cost
			}
			return d
		},
	}, a, b)

	req := chatRequest("team-a")
	req.PreferredProvider = "b"

	resp, err := f.gw.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("expected pinned provider b, got %q", resp.Provider)
	}
}

func TestComplete_CircuitOpensAndFallsBack(t *testing.T) {
	a := failing("a", domain.NewTransientError("a", errors.New("upstream 503")))
	b := succeeding("b", "from b")

	f := newFixture(t, fixtureOptions{
		breaker: resilience.BreakerConfig{FailureThreshold: 2, Window: time.Minute, Cooldown: 30 * time.Second},
		retry:   resilience.RetryConfig{MaxRetries: 1, BackoffBase: time.Millisecond, MaxInterval: time.Millisecond},
		descriptor: func(name string) registry.Descriptor {
			d := defaultDescriptor(name)
			if name == "b" {
				d.CostPer1KOutput = 2000
			}
			return d
		},
	}, a, b)

	// First request: a fails twice (attempt + retry), tripping its
	// breaker, then b serves the request.
	resp, err := f.gw.Complete(context.Background(), chatRequest("team-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("expected b to serve, got %q", resp.Provider)
	}
	if a.callCount() != 2 {
		t.Errorf("expected 2 calls to a, got %d", a.callCount())
	}
	if !f.hasEvent(events.CircuitOpened) {
		t.Errorf("expected CircuitOpened event, got %v", f.eventTypes())
	}

	// Second request: a's open circuit removes it from the candidate
	// list entirely, so it is not called again.
	req := chatRequest("team-a")
	req.Messages[0].Content = "a different prompt" // avoid the cache
	resp, err = f.gw.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("expected b again, got %q", resp.Provider)
	}
	if a.callCount() != 2 {
		t.Errorf("expected a untouched while open, got %d calls", a.callCount())
	}
}

func TestComplete_DeadlineAborts(t *testing.T) {
	slow := &fakeAdapter{
		name: "slow",
		fn: func(ctx context.Context, req domain.Request) (*domain.Response, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return &domain.Response{Content: "too late", Usage: domain.TokenUsage{Input: 1, Output: 1, Total: 2}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	fast := succeeding("fast", "never reached")

	f := newFixture(t, fixtureOptions{
		descriptor: func(name string) registry.Descriptor {
			d := defaultDescriptor(name)
			if name == "fast" {
				d.CostPer1KOutput = 2000 // slow orders first
			}
			return d
		},
	}, slow, fast)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.gw.Complete(ctx, chatRequest("team-a"))
	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}

	// No fallback after the deadline: the request is dead either way.
	if fast.callCount() != 0 {
		t.Errorf("expected no fallback after deadline, got %d calls", fast.callCount())
	}
	if spent := f.led.Spent("team-a"); spent != 0 {
		t.Errorf("expected reservation rolled back, got %v", spent)
	}
}

func TestComplete_DeadlineGenerousEnough(t *testing.T) {
	slow := &fakeAdapter{
		name: "slow",
		fn: func(ctx context.Context, req domain.Request) (*domain.Response, error) {
			select {
			case <-time.After(50 * time.Millisecond):
				return &domain.Response{Content: "made it", Usage: domain.TokenUsage{Input: 1, Output: 1, Total: 2}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	f := newFixture(t, fixtureOptions{}, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	resp, err := f.gw.Complete(ctx, chatRequest("team-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "made it" {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestComplete_EventSequenceOnMissThenHit(t *testing.T) {
	a := succeeding("a", "hi")
	f := newFixture(t, fixtureOptions{}, a)

	req := chatRequest("team-a")
	f.gw.Complete(context.Background(), req)
	f.gw.Complete(context.Background(), req)

	want := []events.Type{
		events.RequestStarted,
		events.CacheMiss,
		events.ProviderCallSucceeded,
		events.RequestStarted,
		events.CacheHit,
	}
	got := f.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
