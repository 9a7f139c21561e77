// Package integrations provides the shared HTTP client every upstream data
// source is built on.
//
// # Overview
//
// A [Client] talks to one upstream (a price index, a trade search API, ...)
// and handles:
//   - Rate limiting: calls are spaced at least 1/RequestsPerSecond apart
//   - Response caching: bounded LRU with per-entry TTL
//   - Retry: exponential backoff for transient failures, honoring Retry-After
//   - Classification: every failure maps onto the [errors] taxonomy
//
// # Client Pattern
//
// Concrete upstream clients embed or wrap a [Client]:
//
//	client, err := integrations.NewClient(integrations.Config{
//	    Name:              "ninja",
//	    BaseURL:           "https://poe.ninja/api/data",
//	    RequestsPerSecond: 1,
//	    DefaultTTL:        5 * time.Minute,
//	    EndpointTTL:       map[string]time.Duration{"/currencyoverview": 10 * time.Minute},
//	})
//	var overview CurrencyOverview
//	err = client.Get(ctx, "/currencyoverview", url.Values{"league": {"Standard"}}, &overview)
//
// # Read Flow
//
// A read checks the cache first; a hit returns immediately without waiting on
// the rate limiter. On a miss each attempt waits on the limiter, sends the
// request with a per-attempt timeout, and classifies the response:
//   - 2xx: success, stored with TTL = [WithTTL] > Config.EndpointTTL > Config.DefaultTTL
//   - 429: [errors.RateLimitedError], retried after the server's Retry-After (default 60s)
//   - other 4xx: [errors.APIError], returned at once
//   - 5xx: [errors.APIError], retried
//   - transport failures: NETWORK_ERROR or TIMEOUT, retried
//
// Writes ([Client.Post]) skip the cache but are still limited and retried.
//
// # Cache Keys
//
// Keys come from a [cache.Keyer]. The default scopes keys by upstream name
// and sorts parameters, so the same logical request always maps to the same
// key. Upstreams that normalize differently pass [WithKeyer].
//
// # Multiple Upstreams
//
// [Registry] builds one client per configured upstream. Each keeps its own
// cache, limiter and connection pool.
//
// [errors]: github.com/matzehuels/pricecheck/pkg/errors
// [errors.RateLimitedError]: github.com/matzehuels/pricecheck/pkg/errors.RateLimitedError
// [errors.APIError]: github.com/matzehuels/pricecheck/pkg/errors.APIError
// [cache.Keyer]: github.com/matzehuels/pricecheck/pkg/cache.Keyer
package integrations
