// Package cache provides response caches for upstream clients.
//
// # Overview
//
// [Cache] stores raw response bodies under string keys with a per-entry
// TTL. Two implementations are provided:
//
//   - [MemoryCache]: bounded, strict least-recently-used, lazy expiry
//   - [NullCache]: stores nothing; used when caching is disabled
//
// Keys are built by a [Keyer] so that each upstream can normalize request
// parameters its own way while the client only needs a stable string.
//
// # Expiry
//
// Entries are never swept in the background. An expired entry is treated as
// absent by Get, counted as a miss and purged at that moment; until then it
// occupies a slot and is subject to LRU eviction like any other entry.
package cache

import (
	"context"
	"time"
)

// Cache stores response bodies keyed by request.
type Cache interface {
	// Get returns the stored bytes and true, or nil and false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key for ttl. A non-positive ttl selects the
	// cache's default TTL.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Len returns the number of stored entries, expired ones included.
	Len() int

	// Close releases resources. The cache must not be used afterwards.
	Close() error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Evictions uint64 `json:"evictions"` // LRU evictions only
	Expired   uint64 `json:"expired"`   // Entries purged on read because their TTL passed
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsProvider is implemented by caches that keep counters.
type StatsProvider interface {
	Stats() Stats
}
