// Package cache stores canonical responses keyed by a request fingerprint.
// It supports both in-memory (single instance) and Redis (distributed)
// backends. A broken backend degrades to always-miss, never to request
// failure: recomputing an entry is just another provider call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
)

// Entry is a cached response. A fingerprint maps to at most one live entry.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Response    domain.Response `json:"response"`
	CreatedAt   time.Time       `json:"created_at"`
	TTL         time.Duration   `json:"ttl"`
	HitCount    int             `json:"hit_count"`
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Cache is the backend contract. Get treats expired entries as misses.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool)
	Put(ctx context.Context, fingerprint string, resp domain.Response, ttl time.Duration) error
	Invalidate(ctx context.Context, fingerprint string) error
}

// Fingerprint produces a deterministic hash over the semantically relevant
// parts of a request: normalized messages, capability, temperature,
// max_tokens and any provider pinning. Request ID and principal are
// deliberately excluded so identical prompts share one entry.
func Fingerprint(req domain.Request) string {
	msgs := make([]domain.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = domain.Message{
			Role:    strings.ToLower(strings.TrimSpace(m.Role)),
			Content: strings.TrimSpace(m.Content),
		}
	}

	data, _ := json.Marshal(struct {
		Capability domain.Capability `json:"capability"`
		Messages   []domain.Message  `json:"messages"`
		Temp       *float64          `json:"temperature,omitempty"`
		MaxTokens  int               `json:"max_tokens,omitempty"`
		Pinned     string            `json:"pinned,omitempty"`
	}{
		Capability: req.Capability,
		Messages:   msgs,
		Temp:       req.Temperature,
		MaxTokens:  req.MaxTokens,
		Pinned:     req.PreferredProvider,
	})

	hash := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(hash[:])
}
