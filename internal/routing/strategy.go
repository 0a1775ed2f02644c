// Package routing orders provider candidates into an attempt list. The
// facade falls through the list on per-candidate failures, so every
// strategy returns an ordering rather than a single pick. Equal-score
// candidates keep registration order for deterministic behavior.
package routing

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/registry"
)

// Strategy names accepted in configuration.
const (
	StrategyCostOptimal    = "cost_optimal"
	StrategyLatencyOptimal = "latency_optimal"
	StrategyRoundRobin     = "round_robin"
	StrategyPinned         = "pinned_fallback"
)

type Strategy interface {
	Name() string
	// SelectProviders orders candidates into the attempt list. It never
	// adds candidates, only reorders (or, for pinning, promotes) them.
	SelectProviders(req domain.Request, candidates []registry.Descriptor) []registry.Descriptor
}

// CostEstimator prices a request against one provider's token rates.
// The cost ledger implements it.
type CostEstimator interface {
	EstimateCost(req domain.Request, desc registry.Descriptor) float64
}

// CostOptimal sorts ascending by estimated cost for this request's token
// profile.
type CostOptimal struct {
	Estimator CostEstimator
}

func (s *CostOptimal) Name() string { return StrategyCostOptimal }

func (s *CostOptimal) SelectProviders(req domain.Request, candidates []registry.Descriptor) []registry.Descriptor {
	out := make([]registry.Descriptor, len(candidates))
	copy(out, candidates)

	costs := make(map[string]float64, len(out))
	for _, d := range out {
		costs[d.Name] = s.Estimator.EstimateCost(req, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return costs[out[i].Name] < costs[out[j].Name]
	})
	return out
}

// LatencyOptimal sorts ascending by the tracked rolling-average latency.
// Providers without a sample yet sort first so they get measured.
type LatencyOptimal struct {
	Tracker *LatencyTracker
}

func (s *LatencyOptimal) Name() string { return StrategyLatencyOptimal }

func (s *LatencyOptimal) SelectProviders(req domain.Request, candidates []registry.Descriptor) []registry.Descriptor {
	out := make([]registry.Descriptor, len(candidates))
	copy(out, candidates)

	sort.SliceStable(out, func(i, j int) bool {
		return s.Tracker.Average(out[i].Name) < s.Tracker.Average(out[j].Name)
	})
	return out
}

// RoundRobin rotates through candidates with a shared counter, ignoring
// cost and latency.
type RoundRobin struct {
	counter atomic.Uint64
}

func (s *RoundRobin) Name() string { return StrategyRoundRobin }

func (s *RoundRobin) SelectProviders(req domain.Request, candidates []registry.Descriptor) []registry.Descriptor {
	if len(candidates) == 0 {
		return nil
	}
	start := int(s.counter.Add(1)-1) % len(candidates)

	out := make([]registry.Descriptor, 0, len(candidates))
	for i := 0; i < len(candidates); i++ {
		out = append(out, candidates[(start+i)%len(candidates)])
	}
	return out
}

// PinnedFallback puts the request's preferred provider first when it is
// among the candidates, then orders the rest with the secondary strategy.
type PinnedFallback struct {
	Fallback Strategy
}

func (s *PinnedFallback) Name() string { return StrategyPinned }

func (s *PinnedFallback) SelectProviders(req domain.Request, candidates []registry.Descriptor) []registry.Descriptor {
	rest := s.Fallback.SelectProviders(req, candidates)
	if req.PreferredProvider == "" {
		return rest
	}

	out := make([]registry.Descriptor, 0, len(rest))
	for _, d := range rest {
		if d.Name == req.PreferredProvider {
			out = append([]registry.Descriptor{d}, out...)
			continue
		}
		out = append(out, d)
	}
	return out
}

// ForName builds the configured strategy. PreferredProvider pinning is
// always honored: every base strategy is wrapped in PinnedFallback.
func ForName(name string, est CostEstimator, tracker *LatencyTracker) (Strategy, error) {
	var base Strategy
	switch name {
	case StrategyCostOptimal, "":
		base = &CostOptimal{Estimator: est}
	case StrategyLatencyOptimal:
		base = &LatencyOptimal{Tracker: tracker}
	case StrategyRoundRobin:
		base = &RoundRobin{}
	case StrategyPinned:
		base = &CostOptimal{Estimator: est}
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", name)
	}
	return &PinnedFallback{Fallback: base}, nil
}
