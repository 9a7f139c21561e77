// Package pkg provides the libraries behind pricecheck, a polite client for
// rate-limited upstream price APIs.
//
// # Overview
//
// The pkg directory is organized into:
//
//  1. [integrations] - The shared upstream [integrations.Client] and [integrations.Registry]
//  2. [httputil] - Rate limiter, retry executor and injectable clock
//  3. [cache] - Bounded LRU response cache with per-entry TTL
//  4. [errors] - Error codes and typed upstream errors
//  5. [observability] - Request, cache, retry and throttle hooks (Prometheus, StatsD)
//
// # Architecture
//
// The flow of one read:
//
//	Client.Get
//	     ↓
//	cache lookup ── hit ──→ return
//	     ↓ miss
//	retry loop: limiter wait → HTTP attempt → classify
//	     ↓
//	cache store → return
//
// [integrations]: github.com/matzehuels/pricecheck/pkg/integrations
// [integrations.Client]: github.com/matzehuels/pricecheck/pkg/integrations.Client
// [integrations.Registry]: github.com/matzehuels/pricecheck/pkg/integrations.Registry
// [httputil]: github.com/matzehuels/pricecheck/pkg/httputil
// [cache]: github.com/matzehuels/pricecheck/pkg/cache
// [errors]: github.com/matzehuels/pricecheck/pkg/errors
// [observability]: github.com/matzehuels/pricecheck/pkg/observability
package pkg
