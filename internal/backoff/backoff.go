// Package backoff provides retry delay strategies for the retry controller.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && (d > e.Max || d <= 0) {
		return e.Max
	}
	return d
}

// ExponentialWithJitter applies full jitter to an exponential base:
// Delay = random value in [0, min(Base * 2^(attempt-1), Max)].
// The jitter spreads out re-dispatch when many jobs fail at once.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	ceiling := (&Exponential{Base: e.Base, Max: e.Max}).Delay(attempt)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy is the controller default: full jitter over an
// exponential with 2s base and 5m cap.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(2*time.Second, 5*time.Minute)
}
