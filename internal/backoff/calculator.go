package backoff

import "time"

// Calculator computes the final, bounded, jittered inter-attempt delay for
// a configured strategy. It centralizes the "base, then jitter, then
// clamp to maxAllowedWait" arithmetic.
type Calculator struct {
	strategy Strategy
}

// NewCalculator builds a Calculator around the given strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// ForKind is a convenience constructor resolving a Kind to its Strategy.
func ForKind(kind Kind) *Calculator {
	return NewCalculator(StrategyFor(kind))
}

// Calculate returns min(jitter(strategy.Base(attempt, wait)), maxAllowedWait).
func (c *Calculator) Calculate(attempt int, wait, maxAllowedWait time.Duration, jitter float64) time.Duration {
	base := c.strategy.Base(attempt, wait)
	delay := ApplyJitter(base, jitter)
	if delay > maxAllowedWait {
		return maxAllowedWait
	}
	if delay < 0 {
		return 0
	}
	return delay
}

// SetStrategy swaps the strategy used by subsequent Calculate calls.
func (c *Calculator) SetStrategy(strategy Strategy) {
	c.strategy = strategy
}

// GetStrategy returns the strategy currently in use.
func (c *Calculator) GetStrategy() Strategy {
	return c.strategy
}
