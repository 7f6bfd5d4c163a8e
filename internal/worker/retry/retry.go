// Package retry runs an operation again after transient failures, with
// capped exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Options configures a Policy. Zero values fall back to defaults.
type Options struct {
	// MaxAttempts counts the first try. Default: 3
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt. Default: 500ms
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts. Default: 10s
	MaxBackoff time.Duration
}

// Policy decides how often an operation is attempted.
type Policy struct {
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a policy with the given options.
func New(opts Options) *Policy {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	return &Policy{opts: opts, sleep: sleepCtx}
}

// Disabled returns a policy that attempts exactly once.
func Disabled() *Policy {
	return &Policy{opts: Options{MaxAttempts: 1}, sleep: sleepCtx}
}

// MaxAttempts reports how many times Do may call the operation.
func (p *Policy) MaxAttempts() int {
	return p.opts.MaxAttempts
}

// Do calls fn until it succeeds, returns a Permanent error, ctx is done or
// the attempt budget is spent. attempt starts at 1. The last failure is
// returned unwrapped from any Permanent marker.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.backoff(attempt-1)); err != nil {
				if lastErr != nil {
					return lastErr
				}
				return err
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// backoff returns the jittered wait before retry n (n >= 1).
func (p *Policy) backoff(n int) time.Duration {
	d := p.opts.InitialBackoff * time.Duration(1<<uint(min(n-1, 30)))
	if d > p.opts.MaxBackoff || d <= 0 {
		d = p.opts.MaxBackoff
	}
	// 0.5 to 1.5 of the base wait
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
// 5xx, 408 and 429 are transient; every other non-2xx is final.
func RetryableStatus(code int) bool {
	return code >= 500 || code == 408 || code == 429
}
