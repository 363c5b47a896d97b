package config

import (
	"strconv"
	"time"
)

// DatabaseConfig holds the state repository's PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST"     yaml:"host"`
	Port            int           `env:"DB_PORT"     yaml:"port"`
	User            string        `env:"DB_USER"     yaml:"user"`
	Password        string        `env:"DB_PASSWORD" yaml:"password"`
	Database        string        `env:"DB_NAME"     yaml:"database"`
	SSLMode         string        `env:"DB_SSLMODE"  yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// DSN returns the PostgreSQL connection string built from the config.
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// SetDefaults applies defaults for unset DatabaseConfig fields.
func (c *DatabaseConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// RedisConfig holds the queue and cache broker's connection settings.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// SetDefaults applies defaults for unset RedisConfig fields.
func (c *RedisConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
}

// LoggingConfig holds structured logger settings.
type LoggingConfig struct {
	Level       string `env:"LOG_LEVEL" yaml:"level"`
	Development bool   `yaml:"development"`
}

// SetDefaults applies defaults for unset LoggingConfig fields.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// WorkerConfig controls a stage's bounded worker pool.
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE"      yaml:"pool_size"`
	JobTimeout          time.Duration `env:"WORKER_JOB_TIMEOUT"    yaml:"job_timeout"`
	DrainTimeout        time.Duration `env:"WORKER_DRAIN_TIMEOUT"  yaml:"drain_timeout"`
	PollInterval        time.Duration `env:"WORKER_POLL_INTERVAL"  yaml:"poll_interval"`
	VisibilityTimeout   time.Duration `env:"WORKER_VISIBILITY_TTL" yaml:"visibility_timeout"`
	MaxReceiveCount     int           `env:"WORKER_MAX_RECEIVE"    yaml:"max_receive_count"`
}

// SetDefaults applies defaults for unset WorkerConfig fields.
func (c *WorkerConfig) SetDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = 8
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 2 * time.Minute
	}
	if c.MaxReceiveCount == 0 {
		c.MaxReceiveCount = 5
	}
}

// SweeperConfig controls the delay/resume sweeper's tick interval.
type SweeperConfig struct {
	Interval time.Duration `env:"SWEEPER_INTERVAL" yaml:"interval"`
}

// SetDefaults applies defaults for unset SweeperConfig fields.
func (c *SweeperConfig) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
}
