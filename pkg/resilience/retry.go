package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
)

// Default retry configuration values.
const (
	DefaultRetryMaxAttempts    = 3
	DefaultRetryInitialDelay   = time.Second
	DefaultRetryMaxDelay       = 30 * time.Second
	DefaultRetryMultiplier     = 2.0
	DefaultRetryJitterFraction = 0.2
)

// RetryConfig describes a bounded exponential backoff schedule. It is an
// immutable configuration value; the schedule for attempt k (0-indexed) is
// min(InitialDelay * Multiplier^k, MaxDelay) plus a uniform random jitter of
// ±JitterFraction of that delay.
type RetryConfig struct {
	// MaxAttempts bounds total attempts including the first. 1 disables
	// retrying entirely and is fully supported.
	MaxAttempts int
	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Multiplier scales the delay between consecutive retries.
	Multiplier float64
	// JitterFraction spreads concurrent retriers apart; 0 disables jitter.
	JitterFraction float64
}

// DefaultRetryConfig returns the documented default schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    DefaultRetryMaxAttempts,
		InitialDelay:   DefaultRetryInitialDelay,
		MaxDelay:       DefaultRetryMaxDelay,
		Multiplier:     DefaultRetryMultiplier,
		JitterFraction: DefaultRetryJitterFraction,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultRetryInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryMaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultRetryMultiplier
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		c.JitterFraction = DefaultRetryJitterFraction
	}
	return c
}

// DelayFor computes the delay before retry attempt k (0-indexed), using rnd
// in [0,1) as the jitter source. The jittered delay never drops below zero.
func (c RetryConfig) DelayFor(attempt int, rnd float64) time.Duration {
	c = c.normalize()
	base := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if base > float64(c.MaxDelay) {
		base = float64(c.MaxDelay)
	}
	jitter := (rnd*2 - 1) * c.JitterFraction * base
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Retryer wraps operations with the bounded, jittered retry schedule. The
// random source and failure classifier are injectable for deterministic
// tests; the zero value of either falls back to math/rand and the
// datasource taxonomy.
type Retryer struct {
	config   RetryConfig
	random   func() float64
	classify func(error) bool
}

// NewRetryer creates a retryer with the given schedule.
func NewRetryer(cfg RetryConfig) *Retryer {
	return &Retryer{
		config:   cfg.normalize(),
		random:   rand.Float64,
		classify: datasource.IsRetryable,
	}
}

// WithRandom overrides the jitter source with a function returning [0,1).
func (r *Retryer) WithRandom(random func() float64) *Retryer {
	r.random = random
	return r
}

// WithClassifier overrides which errors count as transient.
func (r *Retryer) WithClassifier(classify func(error) bool) *Retryer {
	r.classify = classify
	return r
}

// Config returns the normalized schedule.
func (r *Retryer) Config() RetryConfig { return r.config }

// Do runs op, retrying transient failures until the schedule is exhausted.
// Terminal failures (not-found, validation, conflict) return immediately.
// Between attempts it sleeps the scheduled delay unless the context is
// canceled first.
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.config.DelayFor(attempt-1, r.random())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.classify(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// Retry runs op under the given schedule with the default random source and
// failure classifier.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	return NewRetryer(cfg).Do(ctx, op)
}
