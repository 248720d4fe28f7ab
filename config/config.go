// Package config loads daemon configuration from TOML files.
//
// A config file is a set of optional sections; every field has a
// default, so an empty file yields a working in-memory deployment.
// Duration fields accept Go duration strings such as "30s" or "5m".
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override file values after parsing.
const (
	// EnvAddr overrides [server] addr.
	EnvAddr = "TASKKIT_ADDR"

	// EnvRedisAddr overrides [redis] addr.
	EnvRedisAddr = "TASKKIT_REDIS_ADDR"
)

// Default values for string-typed fields.
const (
	DefaultAddr          = ":8080"
	DefaultBackend       = "memory"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultSubjectPrefix = "taskkit.events"
)

// Duration is a time.Duration that decodes from TOML duration strings.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.Decode.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in the same form it accepts.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full daemon configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	RateLimit   RateLimitConfig   `toml:"ratelimit"`
	Logging     LoggingConfig     `toml:"logging"`
	Engine      EngineConfig      `toml:"engine"`
	Retry       RetryConfig       `toml:"retry"`
	Storage     StorageConfig     `toml:"storage"`
	Redis       RedisConfig       `toml:"redis"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
	Stream      StreamConfig      `toml:"stream"`
	Webhook     WebhookConfig     `toml:"webhook"`
	NATS        NATSConfig        `toml:"nats"`
	Search      SearchConfig      `toml:"search"`
	Shutdown    ShutdownConfig    `toml:"shutdown"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr"`

	// APIKeys are the accepted X-Api-Key values. Empty disables auth.
	APIKeys []string `toml:"api_keys"`

	// SyncTimeout caps how long a synchronous submission may wait.
	SyncTimeout Duration `toml:"sync_timeout"`
}

// RateLimitConfig configures per-caller request limiting.
// Zero or negative Requests disables limiting.
type RateLimitConfig struct {
	// Requests allowed per caller per window.
	Requests int `toml:"requests"`

	// Window over which Requests is counted.
	Window Duration `toml:"window"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`

	// Format is text or json.
	Format string `toml:"format"`
}

// EngineConfig configures the worker pool and the janitor.
type EngineConfig struct {
	// Workers is the pool size.
	Workers int `toml:"workers"`

	// Retention is how long terminal tasks are kept.
	Retention Duration `toml:"retention"`

	// SweepInterval is how often expired tasks are purged.
	SweepInterval Duration `toml:"sweep_interval"`
}

// RetryConfig configures the default retry policy. Individual tasks
// may still override the attempt ceiling at submission.
type RetryConfig struct {
	// MaxAttempts per task, first run included.
	MaxAttempts int `toml:"max_attempts"`

	// InitBackoff is the delay before the first retry.
	InitBackoff Duration `toml:"init_backoff"`

	// MaxBackoff caps the delay regardless of attempt count.
	MaxBackoff Duration `toml:"max_backoff"`
}

// StorageConfig selects the task store and idempotency backends.
type StorageConfig struct {
	// Backend is memory or redis.
	Backend string `toml:"backend"`
}

// RedisConfig configures the Redis connection. Used only when the
// storage backend is redis.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `toml:"addr"`

	// Password authenticates the connection. Optional.
	Password string `toml:"password"`

	// DB selects the logical database.
	DB int `toml:"db"`

	// KeyPrefix namespaces all keys.
	KeyPrefix string `toml:"key_prefix"`
}

// IdempotencyConfig configures submission deduplication.
type IdempotencyConfig struct {
	// TTL is how long an idempotency key maps to its task.
	TTL Duration `toml:"ttl"`
}

// StreamConfig configures the SSE event stream endpoint.
type StreamConfig struct {
	// Poll is the default interval between event log reads.
	Poll Duration `toml:"poll"`

	// Timeout is the ceiling on stream lifetime.
	Timeout Duration `toml:"timeout"`
}

// WebhookConfig configures terminal-state notifications.
type WebhookConfig struct {
	// MaxAttempts per notification.
	MaxAttempts int `toml:"max_attempts"`

	// InitBackoff is the delay after the first failed attempt.
	InitBackoff Duration `toml:"init_backoff"`

	// Timeout per POST attempt.
	Timeout Duration `toml:"timeout"`
}

// NATSConfig configures the event relay. An empty URL disables it.
type NATSConfig struct {
	// URL of the NATS server, e.g. "nats://localhost:4222".
	URL string `toml:"url"`

	// SubjectPrefix for published events.
	SubjectPrefix string `toml:"subject_prefix"`

	// Name identifies this client to the server.
	Name string `toml:"name"`
}

// SearchConfig configures the terminal-task search index.
type SearchConfig struct {
	// Enabled turns the index and its API route on.
	Enabled bool `toml:"enabled"`

	// Path is the on-disk index location. Empty keeps it in memory.
	Path string `toml:"path"`
}

// ShutdownConfig configures the drain on termination.
type ShutdownConfig struct {
	// Timeout bounds the whole shutdown sequence.
	Timeout Duration `toml:"timeout"`
}

// Default returns a configuration with all defaults applied. The
// result describes a single-process in-memory deployment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        DefaultAddr,
			SyncTimeout: Duration{30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Window: Duration{time.Minute},
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Engine: EngineConfig{
			Workers:       4,
			Retention:     Duration{168 * time.Hour},
			SweepInterval: Duration{time.Minute},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitBackoff: Duration{time.Second},
			MaxBackoff:  Duration{5 * time.Minute},
		},
		Storage: StorageConfig{
			Backend: DefaultBackend,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Idempotency: IdempotencyConfig{
			TTL: Duration{24 * time.Hour},
		},
		Stream: StreamConfig{
			Poll:    Duration{500 * time.Millisecond},
			Timeout: Duration{5 * time.Minute},
		},
		Webhook: WebhookConfig{
			MaxAttempts: 3,
			InitBackoff: Duration{time.Second},
			Timeout:     Duration{5 * time.Second},
		},
		NATS: NATSConfig{
			SubjectPrefix: DefaultSubjectPrefix,
		},
		Shutdown: ShutdownConfig{
			Timeout: Duration{30 * time.Second},
		},
	}
}

// Load reads and parses a TOML config file. Environment overrides are
// applied and the result validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML config data on top of the defaults.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on parsed values.
func (c *Config) applyEnv() {
	if addr := os.Getenv(EnvAddr); addr != "" {
		c.Server.Addr = addr
	}
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		c.Redis.Addr = addr
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("storage backend must be memory or redis, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis backend requires an addr")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}

	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine workers cannot be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts cannot be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window.Duration <= 0 {
		return fmt.Errorf("ratelimit window must be positive when requests is set")
	}

	for name, d := range map[string]Duration{
		"server sync_timeout":   c.Server.SyncTimeout,
		"engine retention":      c.Engine.Retention,
		"engine sweep_interval": c.Engine.SweepInterval,
		"retry init_backoff":    c.Retry.InitBackoff,
		"retry max_backoff":     c.Retry.MaxBackoff,
		"idempotency ttl":       c.Idempotency.TTL,
		"stream poll":           c.Stream.Poll,
		"stream timeout":        c.Stream.Timeout,
		"webhook init_backoff":  c.Webhook.InitBackoff,
		"webhook timeout":       c.Webhook.Timeout,
		"shutdown timeout":      c.Shutdown.Timeout,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	return nil
}
