package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Routing.Strategy != "cost_optimal" {
		t.Errorf("expected default strategy cost_optimal, got %q", cfg.Routing.Strategy)
	}
	if cfg.Cache.DefaultTTL != 5*time.Minute {
		t.Errorf("expected default cache TTL 5m, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Resilience.FailureThreshold != 5 {
		t.Errorf("expected default failure threshold 5, got %d", cfg.Resilience.FailureThreshold)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
routing:
  strategy: latency_optimal
cache:
  max_entries: 256
  default_ttl: 10m
  refresh_ttl_on_hit: true
resilience:
  failure_threshold: 3
  cooldown: 45s
providers:
  - name: openai-main
    kind: openai
    capabilities: [chat]
    api_key: sk-test
    model: gpt-4o-mini
    cost_per_1k_input: 0.00015
    cost_per_1k_output: 0.0006
    max_concurrency: 16
  - name: claude
    kind: anthropic
    capabilities: [chat]
    api_key: sk-ant
    model: claude-3-5-haiku-latest
budgets:
  - principal: team-a
    limit_usd: 100
    period: monthly
principals:
  - id: team-a
    api_key_hash: "$2a$10$abcdefghijklmnopqrstuv"
    rate_limit_rpm: 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Routing.Strategy != "latency_optimal" {
		t.Errorf("expected latency_optimal, got %q", cfg.Routing.Strategy)
	}
	if !cfg.Cache.RefreshTTLOnHit {
		t.Error("expected refresh_ttl_on_hit true")
	}
	if cfg.Cache.DefaultTTL != 10*time.Minute {
		t.Errorf("expected TTL 10m, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Resilience.Cooldown != 45*time.Second {
		t.Errorf("expected cooldown 45s, got %v", cfg.Resilience.Cooldown)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
	p := cfg.Providers[0]
	if p.Name != "openai-main" || p.Kind != "openai" || p.Model != "gpt-4o-mini" {
		t.Errorf("unexpected provider %+v", p)
	}
	if p.MaxConcurrency != 16 {
		t.Errorf("expected max_concurrency 16, got %d", p.MaxConcurrency)
	}

	if len(cfg.Budgets) != 1 || cfg.Budgets[0].LimitUSD != 100 {
		t.Errorf("unexpected budgets %+v", cfg.Budgets)
	}
	if len(cfg.Principals) != 1 || cfg.Principals[0].RateLimitRPM != 60 {
		t.Errorf("unexpected principals %+v", cfg.Principals)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	t.Setenv("LLMGW_SERVER__PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env override 7070, got %d", cfg.Server.Port)
	}
}

func TestLoad_RejectsUnknownProviderKind(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: mystery
    kind: carrier-pigeon
    capabilities: [chat]
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown provider kind")
	}
}

func TestLoad_RejectsDuplicateProviderNames(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: dup
    kind: openai
    capabilities: [chat]
  - name: dup
    kind: ollama
    capabilities: [chat]
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for duplicate provider names")
	}
}

func TestLoad_RejectsProviderWithoutCapabilities(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: capless
    kind: openai
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for provider without capabilities")
	}
}

func TestLoad_RejectsUnknownBudgetPeriod(t *testing.T) {
	path := writeConfig(t, `
budgets:
  - principal: team-a
    limit_usd: 10
    period: fortnightly
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown budget period")
	}
}
