package routing

import (
	"sync"
	"time"
)

// LatencyTracker keeps a rolling average of observed call latency per
// provider, fed by the facade after each successful call.
type LatencyTracker struct {
	mu      sync.RWMutex
	window  int
	samples map[string][]time.Duration
}

func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = 32
	}
	return &LatencyTracker{
		window:  window,
		samples: make(map[string][]time.Duration),
	}
}

func (t *LatencyTracker) Observe(provider string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := append(t.samples[provider], d)
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.samples[provider] = s
}

// Average returns the rolling average, or zero when nothing has been
// observed yet so unmeasured providers sort first.
func (t *LatencyTracker) Average(provider string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.samples[provider]
	if len(s) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range s {
		total += d
	}
	return total / time.Duration(len(s))
}
