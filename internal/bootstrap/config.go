// Package bootstrap wires together the pipeline's shared dependencies
// (database, redis, repositories, registry, worker pools, sweeper) so each
// binary under cmd/ only has to pick which stage(s) to run.
//
// The bootstrap process follows these phases:
//   - Phase 1: Config & Logger
//   - Phase 2: Database connection & repositories
//   - Phase 3: Redis connection, queues, and cache
//   - Phase 4: Integration service registry
//   - Phase 5: Stage worker pool(s) and/or sweeper
//   - Phase 6: Run until interrupt
package bootstrap

import (
	"time"

	"github.com/commstream/integration-pipeline/internal/dispatch"
	"github.com/commstream/integration-pipeline/internal/platform/circuitbreaker"
	"github.com/commstream/integration-pipeline/internal/platform/config"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/worker"
)

// Config is the top-level YAML/env configuration for every pipeline binary.
// A given binary only reads the sections relevant to the stage(s) it runs.
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	Logging  logger.Config         `yaml:"logging"`
	Worker   config.WorkerConfig   `yaml:"worker"`
	Sweeper  config.SweeperConfig  `yaml:"sweeper"`

	QueuePrefix      string        `env:"QUEUE_PREFIX"        yaml:"queue_prefix"`
	MaxStreamRetries int           `env:"MAX_STREAM_RETRIES"  yaml:"max_stream_retries"`
	MaxDataRetries   int           `env:"MAX_DATA_RETRIES"    yaml:"max_data_retries"`
	CacheTTL         time.Duration `env:"CACHE_TTL"           yaml:"cache_ttl"`

	Breaker circuitbreaker.Config `yaml:"-"`
}

// SetDefaults fills unset fields across every section.
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Redis.SetDefaults()
	c.Logging.SetDefaults()
	c.Worker.SetDefaults()
	c.Sweeper.SetDefaults()

	if c.QueuePrefix == "" {
		c.QueuePrefix = "pipeline"
	}
	if c.MaxStreamRetries <= 0 {
		c.MaxStreamRetries = dispatch.DefaultSettings().MaxStreamRetries
	}
	if c.MaxDataRetries <= 0 {
		c.MaxDataRetries = dispatch.DefaultSettings().MaxDataRetries
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = dispatch.DefaultSettings().CacheTTL
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker = circuitbreaker.DefaultConfig()
	}
}

// LoadConfig reads path (YAML with env overrides), applying defaults.
func LoadConfig(path string) (*Config, error) {
	return config.LoadWithDefaults(path, func(c *Config) { c.SetDefaults() })
}

func (c *Config) workerConfig() worker.Config {
	return worker.Config{
		PoolSize:     c.Worker.PoolSize,
		JobTimeout:   c.Worker.JobTimeout,
		DrainTimeout: c.Worker.DrainTimeout,
		PollBackoff:  c.Worker.PollInterval,
	}
}

func (c *Config) settings() dispatch.Settings {
	return dispatch.Settings{
		MaxStreamRetries: c.MaxStreamRetries,
		MaxDataRetries:   c.MaxDataRetries,
		CacheTTL:         c.CacheTTL,
	}
}
