package httputil

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
)

// Verbosity selects how much the retry executor logs. It never changes
// timing or outcome.
type Verbosity int

const (
	// VerbosityMinimal logs one warning per retry.
	VerbosityMinimal Verbosity = iota
	// VerbosityDetailed additionally traces every attempt with its error and elapsed time.
	VerbosityDetailed
)

// ParseVerbosity maps "minimal" and "detailed" to a Verbosity.
func ParseVerbosity(s string) (Verbosity, bool) {
	switch s {
	case "", "minimal":
		return VerbosityMinimal, true
	case "detailed":
		return VerbosityDetailed, true
	}
	return VerbosityMinimal, false
}

func (v Verbosity) String() string {
	if v == VerbosityDetailed {
		return "detailed"
	}
	return "minimal"
}

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures that carry no Transient method with this type
// so that [Retry] knows to attempt the operation again.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a [RetryableError]. Retryable(nil) is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// RetryAfterer is implemented by errors carrying a server-mandated delay.
// When Retry sees one, that delay replaces the exponential schedule.
type RetryAfterer interface {
	RetryAfterDelay() time.Duration
}

// RetryAttempt describes one failed attempt that is about to be retried.
type RetryAttempt struct {
	Attempt int           // 0-indexed attempt that failed
	Delay   time.Duration // Sleep before the next attempt
	Err     error
}

// Policy configures [Retry].
type Policy struct {
	MaxRetries int           // Retries after the first attempt; total attempts = MaxRetries+1
	BaseDelay  time.Duration // Delay after attempt i is BaseDelay * 2^i
	MaxDelay   time.Duration // Caps the exponential delay; 0 means uncapped
	Jitter     float64       // Adds up to Jitter*delay at random; 0 disables

	// Retryable classifies errors; nil means IsRetryable.
	Retryable func(error) bool

	Clock     Clock       // nil means RealClock
	Logger    *log.Logger // nil disables logging
	Verbosity Verbosity

	// OnRetry is called before each inter-attempt sleep.
	OnRetry func(ctx context.Context, a RetryAttempt)
}

// DefaultPolicy returns 3 retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second}
}

// Delay returns the sleep after the given failed attempt: the server's
// retry-after when err carries one, otherwise BaseDelay * 2^attempt.
func (p Policy) Delay(attempt int, err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfterDelay()
	}
	attempt = max(attempt, 0)
	var d time.Duration
	if attempt >= 63 || p.BaseDelay > math.MaxInt64>>attempt {
		d = math.MaxInt64
	} else {
		d = p.BaseDelay << attempt
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		j := time.Duration(rand.Float64() * p.Jitter * float64(d))
		if j > math.MaxInt64-d {
			return math.MaxInt64
		}
		d += j
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, or has
// been attempted MaxRetries+1 times. On exhaustion the last error is
// returned unchanged. It returns ctx.Err() if cancelled while sleeping.
func Retry(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is [Retry] for operations that return a value.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	clock := p.Clock
	if clock == nil {
		clock = RealClock{}
	}
	classify := p.Retryable
	if classify == nil {
		classify = IsRetryable
	}
	logger := p.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	retries := max(p.MaxRetries, 0)
	start := clock.Now()

	for attempt := 0; ; attempt++ {
		if p.Verbosity == VerbosityDetailed {
			logger.Debug("attempt", "n", attempt+1, "of", retries+1)
		}

		v, err := fn(ctx)
		if err == nil {
			if p.Verbosity == VerbosityDetailed && attempt > 0 {
				logger.Debug("succeeded after retry", "attempts", attempt+1, "elapsed", clock.Now().Sub(start))
			}
			return v, nil
		}
		if !classify(err) || attempt >= retries {
			if p.Verbosity == VerbosityDetailed {
				logger.Debug("giving up", "attempts", attempt+1, "retryable", classify(err), "err", err)
			}
			return v, err
		}

		delay := p.Delay(attempt, err)
		if p.Verbosity == VerbosityDetailed {
			logger.Warn("retrying", "attempt", attempt+1, "delay", delay, "elapsed", clock.Now().Sub(start), "err", err)
		} else {
			logger.Warn("retrying", "attempt", attempt+1, "delay", delay)
		}
		if p.OnRetry != nil {
			p.OnRetry(ctx, RetryAttempt{Attempt: attempt, Delay: delay, Err: err})
		}

		if serr := clock.Sleep(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
	}
}

// RetryWithBackoff is a convenience wrapper around [Retry] with
// [DefaultPolicy].
func RetryWithBackoff(ctx context.Context, fn func(context.Context) error) error {
	return Retry(ctx, DefaultPolicy(), fn)
}

// IsRetryable reports whether err is worth another attempt: it is wrapped
// in [RetryableError], carries a retry-after, or exposes Transient() == true.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.As(err, new(*RetryableError)) {
		return true
	}
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return true
	}
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
