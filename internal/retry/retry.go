// Package retry drives bounded attempts with exponential backoff.
//
// Call sites classify each attempt into an Outcome; the driver owns the
// policy (attempt budget, wait growth, caps) and the waiting itself.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Kind int

const (
	Success Kind = iota
	Retryable
	RateLimited
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate_limited"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Kind Kind
	Err  error
}

func OK() Outcome { return Outcome{Kind: Success} }
func Retry(err error) Outcome { return Outcome{Kind: Retryable, Err: err} }
func RateLimit(err error) Outcome { return Outcome{Kind: RateLimited, Err: err} }
func Fail(err error) Outcome { return Outcome{Kind: Fatal, Err: err} }

var ErrExhausted = errors.New("retry: attempts exhausted")

type Policy struct {
	MaxAttempts int
	// Base is the wait after the first failed attempt; it doubles per attempt.
	Base time.Duration
	// Cap bounds waits after generic failures, RateLimitCap after rate limiting.
	Cap          time.Duration
	RateLimitCap time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		Base:         2 * time.Second,
		Cap:          30 * time.Second,
		RateLimitCap: 60 * time.Second,
	}
}

// Backoff returns the wait after the failed attempt with 0-based index attempt.
func (p Policy) Backoff(attempt int, k Kind) time.Duration {
	limit := p.Cap
	if k == RateLimited {
		limit = p.RateLimitCap
	}
	wait := p.Base
	for i := 0; i < attempt; i++ {
		wait *= 2
		if limit > 0 && wait >= limit {
			return limit
		}
	}
	if limit > 0 && wait > limit {
		return limit
	}
	return wait
}

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails fatally, or the attempt budget is spent.
// There is no wait after the final attempt. A nil sleep uses Sleep.
func Do(ctx context.Context, p Policy, sleep Sleeper, log *slog.Logger, fn func(ctx context.Context, attempt int) Outcome) error {
	if sleep == nil {
		sleep = Sleep
	}
	if log == nil {
		log = slog.Default()
	}
	attempts := max(p.MaxAttempts, 1)

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := fn(ctx, attempt)
		switch out.Kind {
		case Success:
			return nil
		case Fatal:
			return out.Err
		}
		last = out.Err
		if attempt == attempts-1 {
			break
		}
		wait := p.Backoff(attempt, out.Kind)
		log.WarnContext(ctx, "attempt failed, backing off",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"outcome", out.Kind.String(),
			"wait", wait,
			"err", out.Err)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}
