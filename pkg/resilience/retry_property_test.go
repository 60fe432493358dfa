package resilience

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: the delay schedule stays within the documented bounds for
// arbitrary configurations and jitter draws.

func TestProperty_DelayWithinJitterBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("delay within ±jitter of the capped exponential", prop.ForAll(
		func(initialMs int64, maxMs int64, multiplier float64, jitter float64, attempt int, rnd float64) bool {
			cfg := RetryConfig{
				MaxAttempts:    3,
				InitialDelay:   time.Duration(initialMs) * time.Millisecond,
				MaxDelay:       time.Duration(maxMs) * time.Millisecond,
				Multiplier:     multiplier,
				JitterFraction: jitter,
			}
			delay := cfg.DelayFor(attempt, rnd)

			base := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
			if base > float64(cfg.MaxDelay) {
				base = float64(cfg.MaxDelay)
			}
			lo := base * (1 - jitter)
			hi := base * (1 + jitter)
			if lo < 0 {
				lo = 0
			}
			// One nanosecond of slack for float truncation.
			return float64(delay) >= lo-1 && float64(delay) <= hi+1
		},
		gen.Int64Range(1, 5000),
		gen.Int64Range(5000, 60000),
		gen.Float64Range(1, 4),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 10),
		gen.Float64Range(0, 0.999999),
	))

	properties.Property("zero jitter is deterministic and monotone until the cap", prop.ForAll(
		func(initialMs int64, multiplier float64, attempt int) bool {
			cfg := RetryConfig{
				MaxAttempts:  3,
				InitialDelay: time.Duration(initialMs) * time.Millisecond,
				MaxDelay:     time.Hour,
				Multiplier:   multiplier,
			}
			a := cfg.DelayFor(attempt, 0.5)
			b := cfg.DelayFor(attempt, 0.0)
			next := cfg.DelayFor(attempt+1, 0.5)
			return a == b && next >= a
		},
		gen.Int64Range(1, 1000),
		gen.Float64Range(1, 3),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
