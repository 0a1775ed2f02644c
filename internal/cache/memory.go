package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-gateway/internal/domain"
)

// InMemoryCache is an LRU-bounded cache with per-entry TTL. Expired
// entries are evicted lazily on the next lookup; once maxEntries is
// exceeded the least-recently-used entry is dropped. Suitable for
// single-instance deployments.
type InMemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	refreshTTL bool
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	now        func() time.Time
}

type InMemoryOption func(*InMemoryCache)

// WithRefreshTTLOnHit makes a hit restart the entry's TTL instead of
// keeping it absolute from creation.
func WithRefreshTTLOnHit() InMemoryOption {
	return func(c *InMemoryCache) { c.refreshTTL = true }
}

func NewInMemoryCache(maxEntries int, opts ...InMemoryOption) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c := &InMemoryCache{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, fingerprint string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[fingerprint]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*Entry)
	if entry.expired(c.now()) {
		c.order.Remove(el)
		delete(c.items, fingerprint)
		return nil, false
	}

	entry.HitCount++
	if c.refreshTTL {
		entry.CreatedAt = c.now()
	}
	c.order.MoveToFront(el)

	cp := *entry
	return &cp, true
}

func (c *InMemoryCache) Put(ctx context.Context, fingerprint string, resp domain.Response, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		Fingerprint: fingerprint,
		Response:    resp,
		CreatedAt:   c.now(),
		TTL:         ttl,
	}

	if el, ok := c.items[fingerprint]; ok {
		// Last writer wins: cached values are idempotent recomputations.
		el.Value = entry
		c.order.MoveToFront(el)
		return nil
	}

	c.items[fingerprint] = c.order.PushFront(entry)

	for len(c.items) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*Entry).Fingerprint)
	}

	return nil
}

func (c *InMemoryCache) Invalidate(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[fingerprint]; ok {
		c.order.Remove(el)
		delete(c.items, fingerprint)
	}
	return nil
}

// Len reports the number of live entries, counting expired ones that
// have not been looked up yet.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
