// Package gateway is the single entry point of the LLM gateway. For each
// request it validates, consults the cache, orders provider candidates,
// and walks the attempt list with budget reservation and resilience
// wrapping until one provider succeeds.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/llm-gateway/internal/cache"
	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/events"
	"github.com/felipepmaragno/llm-gateway/internal/ledger"
	"github.com/felipepmaragno/llm-gateway/internal/registry"
	"github.com/felipepmaragno/llm-gateway/internal/resilience"
	"github.com/felipepmaragno/llm-gateway/internal/routing"
	"github.com/felipepmaragno/llm-gateway/internal/telemetry"
)

const defaultCacheTTL = 5 * time.Minute

type Config struct {
	Registry *registry.Registry
	Cache    cache.Cache
	CacheTTL time.Duration
	Executor *resilience.Executor
	Strategy routing.Strategy
	Ledger   *ledger.Ledger
	Tracker  ledger.Tracker
	Monitor  *ledger.Monitor         // optional
	Latency  *routing.LatencyTracker // optional
	Bus      *events.Bus
}

type Gateway struct {
	registry *registry.Registry
	cache    cache.Cache
	cacheTTL time.Duration
	exec     *resilience.Executor
	strategy routing.Strategy
	ledger   *ledger.Ledger
	tracker  ledger.Tracker
	monitor  *ledger.Monitor
	latency  *routing.LatencyTracker
	bus      *events.Bus
}

func New(cfg Config) *Gateway {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Gateway{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		cacheTTL: ttl,
		exec:     cfg.Executor,
		strategy: cfg.Strategy,
		ledger:   cfg.Ledger,
		tracker:  cfg.Tracker,
		monitor:  cfg.Monitor,
		latency:  cfg.Latency,
		bus:      bus,
	}
}

// Complete runs one request through the pipeline. It returns either a
// response or one error from the gateway taxonomy; adapter-specific
// errors and panics never escape.
func (g *Gateway) Complete(ctx context.Context, req domain.Request) (*domain.Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.Complete")
	defer span.End()
	telemetry.AddRequestAttributes(span, req.Principal, req.ID, string(req.Capability))

	start := time.Now()

	g.publish(events.Event{Type: events.RequestStarted, RequestID: req.ID, Principal: req.Principal, Capability: string(req.Capability)})

	fingerprint := cache.Fingerprint(req)
	if g.cache != nil {
		if entry, ok := g.cache.Get(ctx, fingerprint); ok {
			g.publish(events.Event{Type: events.CacheHit, RequestID: req.ID, Principal: req.Principal, Provider: entry.Response.Provider})
			telemetry.AddCacheAttribute(span, true)

			resp := entry.Response
			resp.RequestID = req.ID
			resp.Cached = true
			resp.Latency = time.Since(start)
			return &resp, nil
		}
		g.publish(events.Event{Type: events.CacheMiss, RequestID: req.ID, Principal: req.Principal})
	}
	telemetry.AddCacheAttribute(span, false)

	candidates := g.registry.ListCapable(req.Capability)
	ordered := g.strategy.SelectProviders(req, candidates)

	var attempts []domain.Attempt
	for _, desc := range ordered {
		resp, err := g.tryProvider(ctx, req, desc, fingerprint)
		if err == nil {
			resp.Latency = time.Since(start)
			telemetry.AddProviderAttributes(span, resp.Provider, resp.Usage.Input, resp.Usage.Output)
			return resp, nil
		}

		// Request-global failures abort without trying further candidates.
		if errors.Is(err, domain.ErrDeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, domain.ErrBudgetExceeded) {
			g.publish(events.Event{Type: events.BudgetExceeded, RequestID: req.ID, Principal: req.Principal})
			return nil, err
		}

		attempts = append(attempts, domain.Attempt{Provider: desc.Name, Err: err})
	}

	err := &domain.AllProvidersFailedError{Attempts: attempts}
	telemetry.AddErrorAttribute(span, err)
	return nil, err
}

// tryProvider runs one candidate: reserve budget and a concurrency slot,
// call through the resilience layer, then commit or roll back.
func (g *Gateway) tryProvider(ctx context.Context, req domain.Request, desc registry.Descriptor, fingerprint string) (*domain.Response, error) {
	estimated := g.ledger.EstimateCost(req, desc)
	if err := g.ledger.Reserve(req.Principal, estimated); err != nil {
		return nil, err
	}

	release, err := g.registry.Reserve(desc.Name)
	if err != nil {
		g.ledger.Rollback(req.Principal, estimated)
		return nil, err
	}
	defer release()

	adapter, ok := g.registry.Adapter(desc.Name)
	if !ok {
		g.ledger.Rollback(req.Principal, estimated)
		return nil, fmt.Errorf("%w: %s", domain.ErrNoProviderAvailable, desc.Name)
	}

	callStart := time.Now()
	resp, err := g.exec.Do(ctx, desc.Name, func(ctx context.Context) (*domain.Response, error) {
		return adapter.Generate(ctx, req)
	})
	callLatency := time.Since(callStart)

	if err != nil {
		g.ledger.Rollback(req.Principal, estimated)
		g.publish(events.Event{
			Type:      events.ProviderCallFailed,
			RequestID: req.ID,
			Principal: req.Principal,
			Provider:  desc.Name,
			Err:       err,
		})
		return nil, err
	}

	actual := g.ledger.ActualCost(desc, resp.Usage)
	g.ledger.Commit(req.Principal, estimated, actual)
	if g.monitor != nil {
		g.monitor.Check(req.Principal)
	}
	if g.latency != nil {
		g.latency.Observe(desc.Name, callLatency)
	}

	resp.RequestID = req.ID
	resp.Provider = desc.Name
	resp.Cached = false

	if g.cache != nil {
		// Store failures degrade to always-miss, never to request failure.
		if err := g.cache.Put(ctx, fingerprint, *resp, g.cacheTTL); err != nil {
			slog.Warn("failed to cache response", "request_id", req.ID, "error", err)
		}
	}

	if g.tracker != nil {
		record := ledger.UsageRecord{
			Principal:    req.Principal,
			RequestID:    req.ID,
			Provider:     desc.Name,
			Capability:   string(req.Capability),
			InputTokens:  resp.Usage.Input,
			OutputTokens: resp.Usage.Output,
			CostUSD:      actual,
			LatencyMs:    callLatency.Milliseconds(),
			Timestamp:    time.Now(),
		}
		_ = g.tracker.Record(ctx, record)
	}

	g.publish(events.Event{
		Type:      events.ProviderCallSucceeded,
		RequestID: req.ID,
		Principal: req.Principal,
		Provider:  desc.Name,
		CostUSD:   actual,
		Latency:   callLatency,
	})

	return resp, nil
}

func (g *Gateway) publish(e events.Event) {
	g.bus.Publish(e)
}

func validate(req domain.Request) error {
	if req.Principal == "" {
		return fmt.Errorf("%w: missing principal", domain.ErrInvalidRequest)
	}
	if req.Capability == "" {
		return fmt.Errorf("%w: missing capability", domain.ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: no messages", domain.ErrInvalidRequest)
	}
	for _, m := range req.Messages {
		if m.Content == "" {
			return fmt.Errorf("%w: empty message content", domain.ErrInvalidRequest)
		}
	}
	if req.MaxTokens < 0 {
		return fmt.Errorf("%w: negative max_tokens", domain.ErrInvalidRequest)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return fmt.Errorf("%w: temperature out of range", domain.ErrInvalidRequest)
	}
	return nil
}
