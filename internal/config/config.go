package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage backends
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Trace exporters
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config holds all configuration for the dagrun service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"DAGRUN_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"DAGRUN_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Redis    RedisConfig
	Store    StoreConfig
	Events   EventsConfig
	Workers  WorkerConfig
	Timeouts TimeoutConfig
	Cache    CacheConfig
	Runner   RunnerConfig
	Tracing  TracingConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// StoreConfig selects where workflows, runs and execution records live
type StoreConfig struct {
	Backend     string        `env:"STORE_BACKEND" envDefault:"redis"`
	SQLitePath  string        `env:"STORE_SQLITE_PATH" envDefault:"dagrun.db"`
	RedisPrefix string        `env:"STORE_REDIS_PREFIX" envDefault:"dagrun:"`
	RunTTL      time.Duration `env:"STORE_RUN_TTL" envDefault:"168h"`
}

// EventsConfig holds the Redis Streams event bus configuration. The
// in-memory bus is used with the memory store.
type EventsConfig struct {
	StreamPrefix string `env:"EVENTS_STREAM_PREFIX" envDefault:"dagrun:events:"`
	MaxLen       int64  `env:"EVENTS_STREAM_MAXLEN" envDefault:"10000"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"100"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	// Zero disables the run timeout
	RunExecutionTimeout time.Duration `env:"TIMEOUT_RUN_EXECUTION" envDefault:"3600s"`
	ShutdownTimeout     time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// CacheConfig holds the task template cache configuration
type CacheConfig struct {
	TemplateTTL      time.Duration `env:"CACHE_TEMPLATE_TTL" envDefault:"5m"`
	TemplateCapacity int           `env:"CACHE_TEMPLATE_CAPACITY" envDefault:"1024"`
}

// RunnerConfig holds the stream task runner configuration
type RunnerConfig struct {
	MinPollInterval time.Duration `env:"RUNNER_MIN_POLL_INTERVAL" envDefault:"50ms"`
	MaxPollInterval time.Duration `env:"RUNNER_MAX_POLL_INTERVAL" envDefault:"5s"`
}

// TracingConfig holds OpenTelemetry exporter configuration
type TracingConfig struct {
	Exporter     string `env:"TRACING_EXPORTER" envDefault:"none"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"dagrun"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Store.Backend {
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
		// Events still go through Redis Streams
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported store backend: %s (must be redis, sqlite, or memory)", c.Store.Backend)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("worker queue size must not be negative")
	}

	if c.Timeouts.RunExecutionTimeout < 0 {
		return fmt.Errorf("run execution timeout must not be negative")
	}

	if c.Runner.MinPollInterval <= 0 || c.Runner.MaxPollInterval < c.Runner.MinPollInterval {
		return fmt.Errorf("invalid runner poll interval: min %s, max %s",
			c.Runner.MinPollInterval, c.Runner.MaxPollInterval)
	}

	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("unsupported tracing exporter: %s (must be none, stdout, or otlp)", c.Tracing.Exporter)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
