// internal/github/ratelimit.go
package github

import (
	"context"
	"sync"
	"time"

	gh "github.com/google/go-github/v62/github"
	"golang.org/x/time/rate"
)

const (
	// defaultBudget is the authenticated hourly call budget GitHub grants.
	defaultBudget = 5000

	// proactiveRate throttles to ~4300 requests/hour so a full budget is
	// never burned before the window resets.
	proactiveRate = 1.2

	// minBuffer is the remaining-budget floor below which callers wait
	// for the reset instant instead of spending the reserve.
	minBuffer = 10
)

// RateLimiter tracks the shared remaining-budget/reset-instant pair for
// all API callers and throttles proactively with a token bucket. All
// workers observe the same state, so a single exhaustion event blocks
// every calling path exactly once.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	bucket    *rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		remaining: defaultBudget,
		bucket:    rate.NewLimiter(rate.Limit(proactiveRate), 5),
	}
}

// Wait blocks until it is safe to issue another API call. When the
// remaining budget is at the floor and the reset instant is in the
// future, it sleeps until the reset.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining := r.remaining
	resetAt := r.resetAt
	r.mu.Unlock()

	if remaining <= minBuffer && time.Now().Before(resetAt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(resetAt)):
		}

		r.mu.Lock()
		// The window has rolled over; assume a fresh budget until the
		// next response corrects it.
		if time.Now().After(r.resetAt) {
			r.remaining = defaultBudget
		}
		r.mu.Unlock()
	}

	return nil
}

// WaitForReset blocks until the recorded reset instant has elapsed.
func (r *RateLimiter) WaitForReset(ctx context.Context) error {
	r.mu.Lock()
	resetAt := r.resetAt
	r.mu.Unlock()

	if !time.Now().Before(resetAt) {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Until(resetAt)):
		return nil
	}
}

// Update records a remaining-budget/reset-instant pair observed on a
// response.
func (r *RateLimiter) Update(remaining int, resetAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	if !resetAt.IsZero() {
		r.resetAt = resetAt
	}
}

// UpdateFromResponse records rate limit state from go-github response
// metadata. Responses without rate headers leave the state untouched.
func (r *RateLimiter) UpdateFromResponse(resp *gh.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	r.Update(resp.Rate.Remaining, resp.Rate.Reset.Time)
}

// Snapshot returns the current remaining-budget/reset-instant pair.
func (r *RateLimiter) Snapshot() (remaining int, resetAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetAt
}
