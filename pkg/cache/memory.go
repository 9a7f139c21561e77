package cache

import (
	"container/list"
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/pricecheck/pkg/observability"
)

const (
	// DefaultCapacity is used when a non-positive capacity is requested.
	DefaultCapacity = 1000

	// DefaultTTL is used when a non-positive default TTL is requested.
	DefaultTTL = 5 * time.Minute
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a bounded in-memory [Cache] with strict least-recently-used
// eviction and lazy per-entry expiry. Both hits and writes count as use.
// It is safe for concurrent use; every operation is atomic.
type MemoryCache struct {
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time
	logger     *log.Logger
	hooks      observability.CacheHooks
	name       string

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[string]*list.Element

	hits, misses, sets, evictions, expired uint64
}

var (
	_ Cache         = (*MemoryCache)(nil)
	_ StatsProvider = (*MemoryCache)(nil)
)

// MemoryOption configures a [MemoryCache].
type MemoryOption func(*MemoryCache)

// WithCacheClock sets the time source used for expiry.
func WithCacheClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger logs evictions at debug level.
func WithCacheLogger(l *log.Logger) MemoryOption {
	return func(c *MemoryCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCacheHooks reports cache events to h, labelled with name.
func WithCacheHooks(name string, h observability.CacheHooks) MemoryOption {
	return func(c *MemoryCache) {
		c.name = name
		if h != nil {
			c.hooks = h
		}
	}
}

// NewMemoryCache creates a cache holding at most capacity entries.
func NewMemoryCache(capacity int, defaultTTL time.Duration, opts ...MemoryOption) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	c := &MemoryCache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     log.New(io.Discard),
		hooks:      observability.Noop{},
		ll:         list.New(),
		items:      make(map[string]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the value for key if it is present and unexpired,
// marking it most recently used. An expired entry is removed and reported as
// a miss.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok {
		e := el.Value.(*entry)
		if c.now().Before(e.expiresAt) {
			c.ll.MoveToFront(el)
			c.hits++
			c.mu.Unlock()
			c.hooks.OnCacheHit(ctx, c.name)
			return append([]byte(nil), e.value...), true, nil
		}
		c.removeElement(el)
		c.expired++
	}
	c.misses++
	c.mu.Unlock()
	c.hooks.OnCacheMiss(ctx, c.name)
	return nil, false, nil
}

// Set inserts or replaces key. When the cache is full and key is new, the
// least recently used entry is evicted first. The stored slice is a copy.
func (c *MemoryCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	e := &entry{
		key:       key,
		value:     append([]byte(nil), data...),
		expiresAt: c.now().Add(ttl),
	}

	c.mu.Lock()
	var (
		evicted  string
		didEvict bool
	)
	if el, ok := c.items[key]; ok {
		// Entries are immutable once stored; a re-insert swaps in a new one.
		el.Value = e
		c.ll.MoveToFront(el)
	} else {
		if c.ll.Len() >= c.capacity {
			if oldest := c.ll.Back(); oldest != nil {
				evicted, didEvict = oldest.Value.(*entry).key, true
				c.removeElement(oldest)
				c.evictions++
			}
		}
		c.items[key] = c.ll.PushFront(e)
	}
	c.sets++
	if didEvict {
		s := c.statsLocked()
		c.logger.Debug("cache eviction", "cache", c.name, "evicted", evicted, "size", s.Size, "evictions", s.Evictions)
	}
	c.mu.Unlock()

	if didEvict {
		c.hooks.OnCacheEvict(c.name)
	}
	c.hooks.OnCacheSet(ctx, c.name, len(data))
	return nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// Clear removes every entry. Counters are kept. Calling it repeatedly is safe.
func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	clear(c.items)
	return nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Capacity returns the maximum number of entries.
func (c *MemoryCache) Capacity() int { return c.capacity }

// Stats returns a consistent snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

// statsLocked builds the snapshot; c.mu must be held. Operations that need
// stats inside their critical section call this instead of Stats.
func (c *MemoryCache) statsLocked() Stats {
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      c.ll.Len(),
		Capacity:  c.capacity,
	}
}

// Close empties the cache.
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
