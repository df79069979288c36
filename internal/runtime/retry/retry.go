// Package retry holds the backoff policy shared by the subscription retry
// loop and the retry link.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxRetries          = 3
	DefaultInitialInterval     = time.Second
	DefaultMaxInterval         = 30 * time.Second
	DefaultRandomizationFactor = 0.5
	DefaultMultiplier          = 2.0

	// maxSteps bounds the walk to the cap; the interval is flat after it.
	maxSteps = 64
)

// Config tunes the delay between attempts.
type Config struct {
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	RandomizationFactor float64
	Multiplier          float64
}

// WithDefaults fills zero values. A negative RandomizationFactor disables
// jitter.
func (c Config) WithDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	switch {
	case c.RandomizationFactor == 0:
		c.RandomizationFactor = DefaultRandomizationFactor
	case c.RandomizationFactor < 0:
		c.RandomizationFactor = 0
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

// Delay returns how long to wait before attempt. Attempt 0 is immediate;
// later attempts back off exponentially with jitter, never beyond
// MaxInterval.
func Delay(cfg Config, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	cfg = cfg.WithDefaults()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: cfg.RandomizationFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
	}
	b.Reset()

	var d time.Duration
	for range min(attempt, maxSteps) {
		d = b.NextBackOff()
	}
	return min(d, cfg.MaxInterval)
}
