// Package memory implements token-aware adaptive conversation memory. Each
// session keeps a working buffer of recent interactions plus a rolling
// summary of everything older; when the buffer's token load crosses an
// adaptive threshold the older part is compressed into the summary.
package memory

import "fmt"

// Config controls the adaptive memory manager. It is immutable after
// construction; build one from the application config and pass it to every
// manager.
type Config struct {
	// MaxContextTokens is the upper bound on the working-memory token budget.
	MaxContextTokens int

	// MinInteractionsBeforeSummary is the floor below which compression never
	// triggers.
	MinInteractionsBeforeSummary int

	// MaxInteractionsLimit is the hard cap that triggers compression
	// regardless of token accounting.
	MaxInteractionsLimit int

	// SmoothingFactor is the recency weighting for the dynamic retention
	// estimate. Values closer to 1 weight recent interactions more evenly.
	SmoothingFactor float64

	// SafetyMargin is the fraction of MaxContextTokens used as the actual
	// trigger threshold.
	SafetyMargin float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:             3000,
		MinInteractionsBeforeSummary: 2,
		MaxInteractionsLimit:         50,
		SmoothingFactor:              0.8,
		SafetyMargin:                 0.9,
	}
}

// AdaptiveThreshold is the token sum at which summarization triggers.
func (c Config) AdaptiveThreshold() float64 {
	return float64(c.MaxContextTokens) * c.SafetyMargin
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("max context tokens must be positive, got %d", c.MaxContextTokens)
	}
	if c.MinInteractionsBeforeSummary < 1 {
		return fmt.Errorf("min interactions before summary must be >= 1, got %d", c.MinInteractionsBeforeSummary)
	}
	if c.MaxInteractionsLimit < c.MinInteractionsBeforeSummary {
		return fmt.Errorf("max interactions limit (%d) must be >= min interactions (%d)",
			c.MaxInteractionsLimit, c.MinInteractionsBeforeSummary)
	}
	if c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("smoothing factor must be in (0, 1], got %g", c.SmoothingFactor)
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return fmt.Errorf("safety margin must be in (0, 1], got %g", c.SafetyMargin)
	}
	return nil
}
