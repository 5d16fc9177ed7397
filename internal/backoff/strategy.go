// Package backoff computes inter-attempt delays for the request engine's
// retry loop. It centralizes the three strategies the engine supports so
// the calculation is exercised identically regardless of call site.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Kind identifies one of the engine's supported backoff strategies.
type Kind int

const (
	Fixed Kind = iota
	Linear
	Exponential
)

// Strategy computes the un-jittered base delay for an attempt index.
// attempt is one-based: the delay computed before attempt 2 uses
// attempt=1, before attempt 3 uses attempt=2, and so on.
type Strategy interface {
	Base(attempt int, wait time.Duration) time.Duration
}

// FixedStrategy always returns the configured wait.
type FixedStrategy struct{}

func (FixedStrategy) Base(attempt int, wait time.Duration) time.Duration {
	return wait
}

// LinearStrategy grows the wait linearly with the attempt index.
type LinearStrategy struct{}

func (LinearStrategy) Base(attempt int, wait time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * wait
}

// ExponentialStrategy doubles the wait per attempt: wait * 2^(attempt-1).
type ExponentialStrategy struct{}

func (ExponentialStrategy) Base(attempt int, wait time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > 62 {
		exp = 62
	}
	scaled := float64(wait) * pow(2, exp)
	if scaled >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64) // saturate instead of overflowing into a negative duration
	}
	return time.Duration(scaled)
}

// StrategyFor resolves a Kind to its Strategy implementation, defaulting to
// FixedStrategy for unrecognized values.
func StrategyFor(kind Kind) Strategy {
	switch kind {
	case Linear:
		return LinearStrategy{}
	case Exponential:
		return ExponentialStrategy{}
	default:
		return FixedStrategy{}
	}
}

// ApplyJitter multiplies a base delay by a uniform factor in
// [1-jitter, 1+jitter] and rounds to the nearest nanosecond. jitter outside
// [0,1) is clamped.
func ApplyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	if jitter >= 1 {
		jitter = 0.999999
	}
	factor := (1 - jitter) + 2*jitter*rand.Float64()
	scaled := float64(base)*factor + 0.5
	if scaled >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// pow computes base^exponent for a non-negative integer exponent.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

// Pow exposes pow for callers needing the same integer-exponent helper.
func Pow(base float64, exponent int) float64 {
	return pow(base, exponent)
}
