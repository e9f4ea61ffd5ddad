// Package ratelimiter throttles the accept loop with a token bucket.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// AcceptThrottle paces new connections using golang.org/x/time/rate.
//
// A nil *AcceptThrottle is valid and never throttles, so callers can hold one
// unconditionally.
//
// Thread safety:
// All methods are safe for concurrent use.
type AcceptThrottle struct {
	limiter *rate.Limiter
}

// New creates a throttle admitting perSecond connections on average with
// bursts of up to burst.
//
// Special cases:
//   - perSecond <= 0: returns nil (no throttling)
//   - burst <= 0: burst becomes max(1, perSecond)
func New(perSecond float64, burst int) *AcceptThrottle {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &AcceptThrottle{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Wait blocks until the next connection may be accepted or ctx is done.
//
// Returns the context error if ctx was cancelled first.
func (t *AcceptThrottle) Wait(ctx context.Context) error {
	if t == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}

// Allow reports whether a connection may be accepted right now, consuming a
// token if so.
func (t *AcceptThrottle) Allow() bool {
	if t == nil {
		return true
	}
	return t.limiter.Allow()
}

// Delay returns how long the caller would wait for the next token without
// consuming it.
func (t *AcceptThrottle) Delay() time.Duration {
	if t == nil {
		return 0
	}
	tokens := t.limiter.Tokens()
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(t.limiter.Limit()) * float64(time.Second))
}

// Tokens returns the number of tokens currently in the bucket.
func (t *AcceptThrottle) Tokens() float64 {
	if t == nil {
		return 0
	}
	return t.limiter.Tokens()
}
