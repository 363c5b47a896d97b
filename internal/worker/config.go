// Package worker provides the bounded worker pool shared by the run, stream
// and data stages, plus the receive loop that feeds it from a queue.
package worker

import (
	"errors"
	"time"
)

const (
	// DefaultPoolSize is the default number of concurrent unit-processing tasks.
	DefaultPoolSize = 10

	// DefaultDrainTimeout bounds how long Stop waits for in-flight units.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultJobTimeout bounds a single unit's processing time.
	DefaultJobTimeout = 5 * time.Minute

	// DefaultPollBackoff is the receive loop's full-pool/receive-error sleep.
	DefaultPollBackoff = time.Second

	MinPoolSize = 1
	MaxPoolSize = 100
)

// Config holds the bounded-concurrency parameters for one worker stage.
type Config struct {
	PoolSize     int
	DrainTimeout time.Duration
	JobTimeout   time.Duration
	PollBackoff  time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:     DefaultPoolSize,
		DrainTimeout: DefaultDrainTimeout,
		JobTimeout:   DefaultJobTimeout,
		PollBackoff:  DefaultPollBackoff,
	}
}

func (c *Config) setDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.PollBackoff == 0 {
		c.PollBackoff = DefaultPollBackoff
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 100")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.JobTimeout <= 0 {
		return errors.New("job timeout must be positive")
	}
	return nil
}
