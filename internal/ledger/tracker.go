package ledger

import (
	"context"
	"sync"
	"time"
)

// UsageRecord is one committed provider call, kept for reporting and
// offline billing. Cache hits are never recorded: they cost nothing.
type UsageRecord struct {
	Principal    string    `json:"principal"`
	RequestID    string    `json:"request_id"`
	Provider     string    `json:"provider"`
	Capability   string    `json:"capability"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// Tracker persists usage records.
type Tracker interface {
	Record(ctx context.Context, record UsageRecord) error
	Usage(ctx context.Context, principal string, since time.Time) ([]UsageRecord, error)
	TotalCost(ctx context.Context, principal string, since time.Time) (float64, error)
}

// InMemoryTracker keeps records in process memory. Suitable for tests
// and single-instance deployments without a database.
type InMemoryTracker struct {
	mu      sync.RWMutex
	records []UsageRecord
}

func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{}
}

func (t *InMemoryTracker) Record(ctx context.Context, record UsageRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, record)
	return nil
}

func (t *InMemoryTracker) Usage(ctx context.Context, principal string, since time.Time) ([]UsageRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []UsageRecord
	for _, r := range t.records {
		if r.Principal == principal && r.Timestamp.After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *InMemoryTracker) TotalCost(ctx context.Context, principal string, since time.Time) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, r := range t.records {
		if r.Principal == principal && r.Timestamp.After(since) {
			total += r.CostUSD
		}
	}
	return total, nil
}
