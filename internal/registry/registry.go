// Package registry holds the configured provider set: one descriptor and
// adapter per provider, plus the in-flight concurrency counters.
// Registration is static at startup; there is no dynamic discovery.
package registry

import (
	"fmt"
	"sync"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/provider"
)

// Descriptor is the capability and pricing metadata for one provider.
type Descriptor struct {
	Name            string
	Capabilities    []domain.Capability
	CostPer1KInput  float64
	CostPer1KOutput float64
	MaxConcurrency  int
}

func (d Descriptor) Capable(tag domain.Capability) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// HealthFunc reports whether a provider is currently worth dispatching to.
// The resilience layer supplies one backed by its circuit snapshots.
type HealthFunc func(name string) bool

type entry struct {
	desc     Descriptor
	adapter  provider.Adapter
	inflight int
}

type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	healthy HealthFunc
}

type Option func(*Registry)

// WithHealth installs the health filter applied by ListCapable.
func WithHealth(fn HealthFunc) Option {
	return func(r *Registry) { r.healthy = fn }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		healthy: func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetHealth replaces the health filter. Used when the filter's owner is
// constructed after the registry.
func (r *Registry) SetHealth(fn HealthFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = fn
}

func (r *Registry) Register(desc Descriptor, adapter provider.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[desc.Name]; ok {
		return fmt.Errorf("provider %q already registered", desc.Name)
	}
	r.entries[desc.Name] = &entry{desc: desc, adapter: adapter}
	r.order = append(r.order, desc.Name)
	return nil
}

// ListCapable returns, in registration order, the providers advertising
// the capability and not currently unhealthy (open circuit).
func (r *Registry) ListCapable(tag domain.Capability) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Descriptor
	for _, name := range r.order {
		e := r.entries[name]
		if !e.desc.Capable(tag) {
			continue
		}
		if !r.healthy(name) {
			continue
		}
		out = append(out, e.desc)
	}
	return out
}

func (r *Registry) Adapter(name string) (provider.Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Reserve claims an in-flight slot on the provider and returns the paired
// release. Callers must invoke the release exactly once, deferred so it
// runs even on panic. Fails with domain.ErrCapacityExceeded when the
// provider is saturated.
func (r *Registry) Reserve(name string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoProviderAvailable, name)
	}
	if e.desc.MaxConcurrency > 0 && e.inflight >= e.desc.MaxConcurrency {
		return nil, fmt.Errorf("%w: %s", domain.ErrCapacityExceeded, name)
	}
	e.inflight++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if e.inflight > 0 {
				e.inflight--
			}
		})
	}, nil
}

// Inflight reports the current in-flight count for a provider.
func (r *Registry) Inflight(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		return e.inflight
	}
	return 0
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
