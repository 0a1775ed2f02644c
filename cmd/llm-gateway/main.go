package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/api"
	"github.com/felipepmaragno/llm-gateway/internal/auth"
	"github.com/felipepmaragno/llm-gateway/internal/cache"
	"github.com/felipepmaragno/llm-gateway/internal/config"
	"github.com/felipepmaragno/llm-gateway/internal/crypto"
	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/events"
	"github.com/felipepmaragno/llm-gateway/internal/gateway"
	"github.com/felipepmaragno/llm-gateway/internal/ledger"
	"github.com/felipepmaragno/llm-gateway/internal/metrics"
	"github.com/felipepmaragno/llm-gateway/internal/notifications"
	"github.com/felipepmaragno/llm-gateway/internal/provider"
	"github.com/felipepmaragno/llm-gateway/internal/provider/anthropic"
	"github.com/felipepmaragno/llm-gateway/internal/provider/bedrock"
	"github.com/felipepmaragno/llm-gateway/internal/provider/ollama"
	"github.com/felipepmaragno/llm-gateway/internal/provider/openai"
	"github.com/felipepmaragno/llm-gateway/internal/ratelimit"
	"github.com/felipepmaragno/llm-gateway/internal/registry"
	"github.com/felipepmaragno/llm-gateway/internal/resilience"
	"github.com/felipepmaragno/llm-gateway/internal/routing"
	"github.com/felipepmaragno/llm-gateway/internal/secrets"
	"github.com/felipepmaragno/llm-gateway/internal/telemetry"
	"github.com/felipepmaragno/llm-gateway/internal/tokens"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting LLM gateway", "port", cfg.Server.Port, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "llm-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	resolver := buildSecretResolver(ctx, cfg)

	estimator := tokens.NewEstimator()

	reg := buildRegistry(ctx, cfg, resolver, estimator)

	bus := events.NewBus()
	bus.Subscribe(events.LogHandler)
	bus.Subscribe(metrics.Subscriber())

	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		Window:           cfg.Resilience.Window,
		Cooldown:         cfg.Resilience.Cooldown,
	}
	breakers := resilience.NewManager(breakerCfg, resilience.WithStateChange(func(name string, from, to resilience.State) {
		switch to {
		case resilience.StateOpen:
			bus.Publish(events.Event{Type: events.CircuitOpened, Provider: name})
		case resilience.StateClosed:
			bus.Publish(events.Event{Type: events.CircuitClosed, Provider: name})
		}
	}))
	reg.SetHealth(breakers.Healthy)

	exec := resilience.NewExecutor(breakers, resilience.RetryConfig{
		MaxRetries:  cfg.Resilience.MaxRetries,
		BackoffBase: cfg.Resilience.BackoffBase,
	})

	budgets := make([]ledger.Budget, 0, len(cfg.Budgets))
	for _, b := range cfg.Budgets {
		budgets = append(budgets, ledger.Budget{
			Principal: b.Principal,
			LimitUSD:  b.LimitUSD,
			Period:    ledger.Period(b.Period),
		})
	}
	costLedger := ledger.New(estimator, budgets)

	tracker := buildTracker(ctx, cfg)

	monitor := ledger.NewMonitor(costLedger, ledger.DefaultThresholds())
	monitor.OnAlert(ledger.LogAlertHandler)

	if cfg.Ledger.SNSTopicARN != "" {
		notifier, err := notifications.NewSNSNotifier(ctx, cfg.AWS.Region, cfg.Ledger.SNSTopicARN)
		if err != nil {
			slog.Error("failed to create sns notifier", "error", err)
			os.Exit(1)
		}
		monitor.OnAlert(notifications.AlertHandler(notifier))
		bus.Subscribe(notifications.EventHandler(notifier))
		slog.Info("budget alerts publishing to sns", "topic", cfg.Ledger.SNSTopicARN)
	}

	latencies := routing.NewLatencyTracker(0)
	strategy, err := routing.ForName(cfg.Routing.Strategy, costLedger, latencies)
	if err != nil {
		slog.Error("invalid routing strategy", "error", err)
		os.Exit(1)
	}

	gw := gateway.New(gateway.Config{
		Registry: reg,
		Cache:    buildCache(cfg),
		CacheTTL: cfg.Cache.DefaultTTL,
		Executor: exec,
		Strategy: strategy,
		Ledger:   costLedger,
		Tracker:  tracker,
		Monitor:  monitor,
		Latency:  latencies,
		Bus:      bus,
	})

	principals := make([]auth.Principal, 0, len(cfg.Principals))
	for _, p := range cfg.Principals {
		principals = append(principals, auth.Principal{
			ID:           p.ID,
			APIKeyHash:   p.APIKeyHash,
			RateLimitRPM: p.RateLimitRPM,
		})
	}

	handler := api.NewHandler(api.HandlerConfig{
		Gateway:     gw,
		Auth:        auth.NewInMemoryStore(principals),
		RateLimiter: buildRateLimiter(cfg),
		Breakers:    breakers,
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

func buildSecretResolver(ctx context.Context, cfg *config.Config) *secrets.ChainResolver {
	var manager *secrets.AWSSecretsManager
	if cfg.AWS.Region != "" {
		m, err := secrets.NewAWSSecretsManager(ctx, cfg.AWS.Region)
		if err != nil {
			slog.Warn("secrets manager unavailable", "error", err)
		} else {
			manager = m
		}
	}
	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor = crypto.NewEncryptor(cfg.EncryptionKey)
	}
	return secrets.NewChainResolver(manager, encryptor)
}

func buildRegistry(ctx context.Context, cfg *config.Config, resolver *secrets.ChainResolver, est *tokens.Estimator) *registry.Registry {
	reg := registry.New()

	for _, pc := range cfg.Providers {
		apiKey, err := resolver.Resolve(ctx, pc.APIKey)
		if err != nil {
			slog.Error("failed to resolve provider credentials", "provider", pc.Name, "error", err)
			os.Exit(1)
		}

		var adapter provider.Adapter
		switch pc.Kind {
		case "openai":
			adapter = openai.New(pc.Name, apiKey, pc.BaseURL, pc.Model, est)
		case "anthropic":
			adapter = anthropic.New(pc.Name, apiKey, pc.BaseURL, pc.Model, est)
		case "ollama":
			adapter = ollama.New(pc.Name, pc.BaseURL, pc.Model, est)
		case "bedrock":
			adapter, err = bedrock.New(ctx, pc.Name, pc.Region, pc.Model, est)
			if err != nil {
				slog.Error("failed to create bedrock adapter", "provider", pc.Name, "error", err)
				os.Exit(1)
			}
		}

		caps := make([]domain.Capability, 0, len(pc.Capabilities))
		for _, c := range pc.Capabilities {
			caps = append(caps, domain.Capability(c))
		}

		desc := registry.Descriptor{
			Name:            pc.Name,
			Capabilities:    caps,
			CostPer1KInput:  pc.CostPer1KInput,
			CostPer1KOutput: pc.CostPer1KOutput,
			MaxConcurrency:  pc.MaxConcurrency,
		}
		if err := reg.Register(desc, adapter); err != nil {
			slog.Error("failed to register provider", "provider", pc.Name, "error", err)
			os.Exit(1)
		}
		slog.Info("registered provider", "provider", pc.Name, "kind", pc.Kind)
	}

	if len(reg.Names()) == 0 {
		slog.Error("no providers configured")
		os.Exit(1)
	}
	return reg
}

func buildCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.RedisURL != "" {
		c, err := cache.NewRedisCache(cfg.Cache.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
		} else {
			slog.Info("using redis cache")
			return c
		}
	}
	var opts []cache.InMemoryOption
	if cfg.Cache.RefreshTTLOnHit {
		opts = append(opts, cache.WithRefreshTTLOnHit())
	}
	slog.Info("using in-memory cache", "max_entries", cfg.Cache.MaxEntries)
	return cache.NewInMemoryCache(cfg.Cache.MaxEntries, opts...)
}

func buildTracker(ctx context.Context, cfg *config.Config) ledger.Tracker {
	var tracker ledger.Tracker
	if cfg.Ledger.DatabaseURL != "" {
		pg, err := ledger.NewPostgresTracker(cfg.Ledger.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		slog.Info("recording usage to postgres")
		tracker = pg
	} else {
		tracker = ledger.NewInMemoryTracker()
	}

	if cfg.Ledger.SQSQueueURL != "" {
		exporter, err := ledger.NewSQSExporter(ctx, cfg.AWS.Region, cfg.Ledger.SQSQueueURL)
		if err != nil {
			slog.Error("failed to create sqs exporter", "error", err)
			os.Exit(1)
		}
		slog.Info("exporting usage records to sqs", "queue", cfg.Ledger.SQSQueueURL)
		tracker = ledger.NewExportingTracker(tracker, exporter)
	}
	return tracker
}

func buildRateLimiter(cfg *config.Config) ratelimit.RateLimiter {
	if cfg.Cache.RedisURL != "" {
		rl, err := ratelimit.NewRedisRateLimiter(cfg.Cache.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for rate limiting, using in-memory", "error", err)
		} else {
			slog.Info("using redis rate limiter")
			return rl
		}
	}
	return ratelimit.NewInMemoryRateLimiter()
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
