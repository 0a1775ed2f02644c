package domain

import "time"

// Capability tags the kind of work a provider can perform.
type Capability string

const (
	CapabilityChat      Capability = "chat"
	CapabilityEmbedding Capability = "embedding"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the canonical completion request. It is immutable once it
// enters the gateway; the caller's deadline travels on the context.
type Request struct {
	ID                string     `json:"id,omitempty"`
	Principal         string     `json:"principal,omitempty"`
	Capability        Capability `json:"capability"`
	Messages          []Message  `json:"messages"`
	MaxTokens         int        `json:"max_tokens,omitempty"`
	Temperature       *float64   `json:"temperature,omitempty"`
	PreferredProvider string     `json:"preferred_provider,omitempty"`
}

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Response is produced exactly once per completed request, whether it
// came from a provider or from the cache.
type Response struct {
	RequestID string        `json:"request_id"`
	Provider  string        `json:"provider"`
	Content   string        `json:"content"`
	Usage     TokenUsage    `json:"usage"`
	Latency   time.Duration `json:"latency"`
	Cached    bool          `json:"cached"`
}
