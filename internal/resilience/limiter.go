package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// RateLimiter is the single serialization point for outbound provider calls.
// One instance is shared by every provider and every record flow in a run;
// grants are spaced at least Interval apart, measured from the previous grant.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	slot     chan struct{}
	last     time.Time
	granted  atomic.Int64
}

// NewRateLimiter creates a limiter granting one call per interval. An
// interval of zero or less disables limiting, which tests use.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &RateLimiter{
		limiter:  lim,
		interval: interval,
		slot:     make(chan struct{}, 1),
	}
}

// Acquire blocks until the next slot is available or ctx is done.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "rate limiter: acquire")
	}
	defer func() { <-l.slot }()

	if err := l.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter: acquire")
	}

	// rate.Limiter paces on its own reservation timeline; a late wake-up of
	// the previous caller can leave less than one interval of wall clock.
	if l.interval > 0 && !l.last.IsZero() {
		if gap := l.interval - time.Since(l.last); gap > 0 {
			if err := sleepCtx(ctx, gap); err != nil {
				return eris.Wrap(err, "rate limiter: acquire")
			}
		}
	}

	l.last = time.Now()
	l.granted.Add(1)
	return nil
}

// Interval returns the configured minimum spacing between grants.
func (l *RateLimiter) Interval() time.Duration { return l.interval }

// Granted returns how many calls have been let through.
func (l *RateLimiter) Granted() int64 { return l.granted.Load() }
