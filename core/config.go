package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds process-wide configuration for the orchestration core.
// Precedence, lowest to highest: built-in defaults, environment variables
// (RFP_*), then functional Options passed to NewConfig.
type Config struct {
	// ServiceName identifies this process in logs and traces.
	ServiceName string

	// BrokerBackend selects the Message Broker implementation: "inprocess"
	// or "redis".
	BrokerBackend string
	RedisURL      string

	// StateStoreBackend selects the State Store implementation: "inmemory"
	// or "redis".
	StateStoreBackend string
	SweepInterval     time.Duration

	// Default per-stage request timeout, used when a StageConfig doesn't
	// override it.
	DefaultStageTimeout time.Duration

	// Default retry policy applied by the Communication Manager around
	// broker.Publish.
	RetryMaxAttempts   int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration

	// Default circuit breaker thresholds.
	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitOpenTimeout      time.Duration

	// Resource caps (spec.md §5).
	MaxTraces       int
	LatencySamples  int

	// Monitoring HTTP surface bind address, used by cmd/rfpcore.
	HTTPAddr string

	Logging LoggingConfig

	logger Logger
}

// LoggingConfig controls the ProductionLogger.
type LoggingConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|text ("" = auto-detect)
	Output string // stdout|stderr
}

// Option configures a Config during NewConfig.
type Option func(*Config) error

// NewConfig builds a Config from defaults, environment variables, then the
// supplied options, validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	applyEnv(cfg)

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.ServiceName)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ServiceName:             "rfp-orchestrator",
		BrokerBackend:           "inprocess",
		StateStoreBackend:       "inmemory",
		SweepInterval:           1 * time.Minute,
		DefaultStageTimeout:     30 * time.Second,
		RetryMaxAttempts:        3,
		RetryInitialDelay:       200 * time.Millisecond,
		RetryMaxDelay:           5 * time.Second,
		CircuitFailureThreshold: 5,
		CircuitSuccessThreshold: 2,
		CircuitOpenTimeout:      30 * time.Second,
		MaxTraces:               10_000,
		LatencySamples:          1000,
		HTTPAddr:                ":8090",
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RFP_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("RFP_BROKER_BACKEND"); v != "" {
		cfg.BrokerBackend = v
	}
	if v := os.Getenv("RFP_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("RFP_STATESTORE_BACKEND"); v != "" {
		cfg.StateStoreBackend = v
	}
	if v := os.Getenv("RFP_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = d
		}
	}
	if v := os.Getenv("RFP_DEFAULT_STAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DefaultStageTimeout = d
		}
	}
	if v := os.Getenv("RFP_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("RFP_CIRCUIT_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CircuitFailureThreshold = n
		}
	}
	if v := os.Getenv("RFP_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("RFP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RFP_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func (c *Config) validate() error {
	if c.BrokerBackend != "inprocess" && c.BrokerBackend != "redis" {
		return fmt.Errorf("broker backend must be inprocess or redis, got %q", c.BrokerBackend)
	}
	if c.BrokerBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("redis url required for redis broker backend")
	}
	if c.StateStoreBackend != "inmemory" && c.StateStoreBackend != "redis" {
		return fmt.Errorf("state store backend must be inmemory or redis, got %q", c.StateStoreBackend)
	}
	if c.StateStoreBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("redis url required for redis state store backend")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1")
	}
	if c.CircuitFailureThreshold < 1 {
		return fmt.Errorf("circuit failure threshold must be >= 1")
	}
	return nil
}

// Logger returns the configured Logger, set during NewConfig.
func (c *Config) Logger() Logger { return c.logger }

// WithLogger overrides the logger the Config will hand to components.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithServiceName sets the service name used in logs/traces.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("service name must not be empty")
		}
		c.ServiceName = name
		return nil
	}
}

// WithRedisBroker switches the broker backend to Redis at the given URL.
func WithRedisBroker(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("redis url must not be empty")
		}
		c.BrokerBackend = "redis"
		c.RedisURL = url
		return nil
	}
}

// WithRedisStateStore switches the state store backend to Redis.
func WithRedisStateStore(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("redis url must not be empty")
		}
		c.StateStoreBackend = "redis"
		c.RedisURL = url
		return nil
	}
}

// WithDefaultStageTimeout overrides the default per-stage timeout.
func WithDefaultStageTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("stage timeout must be positive")
		}
		c.DefaultStageTimeout = d
		return nil
	}
}

// WithHTTPAddr overrides the monitoring HTTP bind address.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) error {
		c.HTTPAddr = addr
		return nil
	}
}
