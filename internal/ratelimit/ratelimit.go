// Package ratelimit caps how often a user may perform an action inside a
// fixed one hour window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/arko05roy/swarm/internal/domain"
)

// Window is the length of every rate limit window.
const Window = time.Hour

// Limiter counts actions per (user, action) pair.
type Limiter interface {
	// Allow records one attempt and reports whether it fits under max.
	Allow(ctx context.Context, user, action string, max int) (bool, error)
	// Remaining returns how long until the pair's window resets. Zero when
	// no window is open.
	Remaining(ctx context.Context, user, action string) (time.Duration, error)
}

// Check is Allow returning a RATE_LIMITED error when the attempt is
// rejected. A max of zero or less disables the limit.
func Check(ctx context.Context, l Limiter, user, action string, max int) error {
	if l == nil || max <= 0 {
		return nil
	}
	ok, err := l.Allow(ctx, user, action, max)
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", action, err)
	}
	if ok {
		return nil
	}
	wait, _ := l.Remaining(ctx, user, action)
	return domain.Errorf(domain.CodeRateLimited,
		"rate limit for %s reached (%d per hour), try again in %d min", action, max, minutes(wait)).
		With("retryAfter", wait.String())
}

// minutes rounds d up to whole minutes.
func minutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

func key(user, action string) string {
	return user + "-" + action
}
