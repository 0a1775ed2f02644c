// Package config loads gateway configuration from a YAML file with
// environment variable overrides (LLMGW_ prefix, double underscore as
// the nesting separator).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server        ServerConfig      `koanf:"server"`
	Providers     []ProviderConfig  `koanf:"providers"`
	Routing       RoutingConfig     `koanf:"routing"`
	Cache         CacheConfig       `koanf:"cache"`
	Resilience    ResilienceConfig  `koanf:"resilience"`
	Ledger        LedgerConfig      `koanf:"ledger"`
	Budgets       []BudgetConfig    `koanf:"budgets"`
	Principals    []PrincipalConfig `koanf:"principals"`
	AWS           AWSConfig         `koanf:"aws"`
	LogLevel      string            `koanf:"log_level"`
	OTLPEndpoint  string            `koanf:"otlp_endpoint"`
	EncryptionKey string            `koanf:"encryption_key"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type ProviderConfig struct {
	Name            string   `koanf:"name"`
	Kind            string   `koanf:"kind"` // openai, anthropic, ollama, bedrock
	Capabilities    []string `koanf:"capabilities"`
	APIKey          string   `koanf:"api_key"`
	BaseURL         string   `koanf:"base_url"`
	Model           string   `koanf:"model"`
	Region          string   `koanf:"region"`
	CostPer1KInput  float64  `koanf:"cost_per_1k_input"`
	CostPer1KOutput float64  `koanf:"cost_per_1k_output"`
	MaxConcurrency  int      `koanf:"max_concurrency"`
}

type RoutingConfig struct {
	Strategy string `koanf:"strategy"` // cost_optimal, latency_optimal, round_robin
}

type CacheConfig struct {
	MaxEntries      int           `koanf:"max_entries"`
	DefaultTTL      time.Duration `koanf:"default_ttl"`
	RedisURL        string        `koanf:"redis_url"`
	RefreshTTLOnHit bool          `koanf:"refresh_ttl_on_hit"`
}

type ResilienceConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	Window           time.Duration `koanf:"window"`
	Cooldown         time.Duration `koanf:"cooldown"`
	MaxRetries       int           `koanf:"max_retries"`
	BackoffBase      time.Duration `koanf:"backoff_base"`
}

type LedgerConfig struct {
	DatabaseURL string `koanf:"database_url"`
	SQSQueueURL string `koanf:"sqs_queue_url"`
	SNSTopicARN string `koanf:"sns_topic_arn"`
}

type BudgetConfig struct {
	Principal string  `koanf:"principal"`
	LimitUSD  float64 `koanf:"limit_usd"`
	Period    string  `koanf:"period"` // daily, monthly
}

type PrincipalConfig struct {
	ID           string `koanf:"id"`
	APIKeyHash   string `koanf:"api_key_hash"`
	RateLimitRPM int    `koanf:"rate_limit_rpm"`
}

type AWSConfig struct {
	Region string `koanf:"region"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	// Environment variables override file values.
	if err := k.Load(env.Provider("LLMGW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LLMGW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                  8080,
		"server.read_timeout":          "30s",
		"server.write_timeout":         "120s",
		"server.shutdown_timeout":      "15s",
		"routing.strategy":             "cost_optimal",
		"cache.max_entries":            1024,
		"cache.default_ttl":            "5m",
		"resilience.failure_threshold": 5,
		"resilience.window":            "1m",
		"resilience.cooldown":          "30s",
		"resilience.max_retries":       3,
		"resilience.backoff_base":      "200ms",
		"log_level":                    "info",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "openai", "anthropic", "ollama", "bedrock":
		default:
			return fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
		}
		if len(p.Capabilities) == 0 {
			return fmt.Errorf("provider %s: no capabilities", p.Name)
		}
	}
	for _, b := range c.Budgets {
		if b.Principal == "" {
			return fmt.Errorf("budget with empty principal")
		}
		switch b.Period {
		case "daily", "monthly":
		default:
			return fmt.Errorf("budget for %s: unknown period %q", b.Principal, b.Period)
		}
	}
	return nil
}
