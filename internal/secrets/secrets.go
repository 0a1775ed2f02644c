// Package secrets resolves secret references in configuration values.
// Three forms are understood:
//
//	plain-value          used as-is
//	secret://name        fetched from AWS Secrets Manager
//	enc://base64-blob    decrypted with the local encryption key
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/felipepmaragno/llm-gateway/internal/crypto"
)

const (
	secretPrefix = "secret://"
	encPrefix    = "enc://"
	cacheTTL     = 5 * time.Minute
)

// Resolver turns a config value into its secret material.
type Resolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// ChainResolver dispatches on the value's prefix. Either backend may be
// nil, in which case its prefix is rejected.
type ChainResolver struct {
	manager   *AWSSecretsManager
	encryptor *crypto.Encryptor
}

func NewChainResolver(manager *AWSSecretsManager, encryptor *crypto.Encryptor) *ChainResolver {
	return &ChainResolver{manager: manager, encryptor: encryptor}
}

func (r *ChainResolver) Resolve(ctx context.Context, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, secretPrefix):
		if r.manager == nil {
			return "", fmt.Errorf("secret reference %q but secrets manager not configured", value)
		}
		return r.manager.GetSecret(ctx, strings.TrimPrefix(value, secretPrefix))
	case strings.HasPrefix(value, encPrefix):
		if r.encryptor == nil {
			return "", fmt.Errorf("encrypted value but no encryption key configured")
		}
		return r.encryptor.Decrypt(strings.TrimPrefix(value, encPrefix))
	default:
		return value, nil
	}
}

// AWSSecretsManager fetches secrets with a short-lived local cache.
type AWSSecretsManager struct {
	client *secretsmanager.Client
	mu     sync.RWMutex
	cache  map[string]*cachedSecret
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSSecretsManager(ctx context.Context, region string) (*AWSSecretsManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSSecretsManagerWithConfig(cfg), nil
}

func NewAWSSecretsManagerWithConfig(cfg aws.Config) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cachedSecret),
		ttl:    cacheTTL,
	}
}

func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := ""
	if result.SecretString != nil {
		value = *result.SecretString
	}

	s.mu.Lock()
	s.cache[name] = &cachedSecret{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}
