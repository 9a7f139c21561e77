// Package httputil provides the pacing and retry primitives shared by every
// upstream client.
//
// # Overview
//
//   - [RateLimiter]: minimum spacing between calls to one upstream
//   - [Retry] and [Do]: bounded exponential backoff around any operation
//   - [Clock]: the time source and sleep primitive both of them use
//
// # Rate Limiting
//
// A [RateLimiter] admits one caller at a time and makes it sleep until at
// least 1/rps has passed since the previous admitted call, plus up to 25%
// random jitter so that callers released together do not burst:
//
//	limiter := httputil.NewRateLimiter(2) // 2 calls per second
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
//
// The first call, and any call after an idle interval, goes through
// immediately.
//
// # Retry
//
// [Retry] re-invokes an operation on transient failure. After failed attempt
// i it sleeps BaseDelay * 2^i, unless the error carries a server retry-after
// (see [RetryAfterer]), which replaces the schedule:
//
//	err := httputil.Retry(ctx, httputil.Policy{MaxRetries: 3, BaseDelay: time.Second},
//	    func(ctx context.Context) error {
//	        return fetch(ctx)
//	    })
//
// Errors are retried when they are wrapped with [Retryable], carry a
// retry-after, or report Transient() == true. Anything else is returned on
// the spot. When retries run out the last error comes back unchanged.
//
// # Testing
//
// Both primitives sleep through an injected [Clock]. [ManualClock] never
// blocks and records every requested sleep, so backoff schedules can be
// asserted exactly.
package httputil
