// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"context"
	"time"
)

const (
	DefaultRateLimit  = 5
	DefaultRateWindow = time.Hour
)

// Counter reports how many passcodes were issued to an email after a point in time.
type Counter interface {
	CountOTPsSince(ctx context.Context, email string, since time.Time) (int, error)
}

// RateLimiter caps issuance per email over a sliding window. It reads the
// persisted issuance history and never writes.
type RateLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter returns a limiter allowing limit issuances per window.
func NewRateLimiter(counter Counter, limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	if now == nil {
		now = utcNow
	}
	return &RateLimiter{counter: counter, limit: limit, window: window, now: now}
}

// Allow reports whether another passcode may be issued to email now.
func (l *RateLimiter) Allow(ctx context.Context, email string) (bool, error) {
	count, err := l.counter.CountOTPsSince(ctx, email, l.now().Add(-l.window))
	if err != nil {
		return false, err
	}
	return count < l.limit, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
