package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Pacer paces a sender one byte at a time.
//
// Wait blocks until the next byte may be written, or until ctx is done.
// A Pacer reporting Unlimited never blocks and lets callers skip pacing
// entirely and write a payload in one call.
//
// Thread safety:
// Implementations are safe for concurrent use, but each session normally
// owns its own Pacer so that one slow client does not throttle another.
type Pacer interface {
	Wait(ctx context.Context) error
	Unlimited() bool
}

// Pacing modes accepted by NewPacer.
const (
	ModeFixed       = "fixed"
	ModeTokenBucket = "token_bucket"
	ModeNone        = "none"
)

// Config selects and parameterizes a Pacer.
type Config struct {
	// Mode is one of "fixed", "token_bucket" or "none".
	Mode string

	// SendDelay is the pause after each byte in "fixed" mode.
	SendDelay time.Duration

	// BytesPerSecond and Burst configure "token_bucket" mode.
	BytesPerSecond uint
	Burst          uint
}

// NewPacer builds a fresh Pacer for one session.
func NewPacer(cfg Config) (Pacer, error) {
	switch cfg.Mode {
	case "", ModeFixed:
		return NewFixedDelay(cfg.SendDelay), nil
	case ModeTokenBucket:
		if cfg.BytesPerSecond == 0 {
			return nil, fmt.Errorf("token_bucket pacing requires bytes_per_second > 0")
		}
		return New(cfg.BytesPerSecond, cfg.Burst), nil
	case ModeNone:
		return Unlimited{}, nil
	default:
		return nil, fmt.Errorf("unknown pacing mode %q", cfg.Mode)
	}
}

// FixedDelay sleeps for a constant duration before every byte.
type FixedDelay struct {
	delay time.Duration
}

// NewFixedDelay returns a FixedDelay pacer. A non-positive delay never waits.
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{delay: delay}
}

// Wait pauses for the configured delay. It returns ctx.Err() if the context
// is done first.
func (f *FixedDelay) Wait(ctx context.Context) error {
	if f.delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(f.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FixedDelay) Unlimited() bool {
	return f.delay <= 0
}

// Delay returns the configured per-byte delay.
func (f *FixedDelay) Delay() time.Duration {
	return f.delay
}

// Unlimited is a Pacer that never waits.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Unlimited() bool                { return true }

// RateLimiter provides byte rate limiting using the token bucket algorithm.
//
// This implementation wraps golang.org/x/time/rate:
//   - Tokens are added to the bucket at a constant rate (bytes per second)
//   - Each sent byte consumes one token
//   - If the bucket is empty, Wait blocks until a token is available
//   - Burst capacity lets a short run of bytes go out back to back
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a new RateLimiter with the specified rate and burst capacity.
//
// Special cases:
//   - bytesPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: treated as 1 so that Wait can ever succeed
func New(bytesPerSecond, burst uint) *RateLimiter {
	if bytesPerSecond == 0 {
		// rate.Inf would be ideal but has edge cases, so use a large value
		bytesPerSecond = 1_000_000_000
		burst = bytesPerSecond
	}
	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// Allow reports whether one byte may be sent now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Unlimited reports false: even a very high limit is still paced per byte.
func (r *RateLimiter) Unlimited() bool {
	return false
}

// Tokens returns the current number of available tokens.
//
// This is primarily useful for monitoring and debugging.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
