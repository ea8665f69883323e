// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// EnvProduction is the environment name that enables production behaviour
// (rate limiting, JSON logs, no cache flush).
const EnvProduction = "production"

// Config is the top-level gateway configuration.
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Log         LogConfig       `yaml:"log"`
	Weverse     WeverseConfig   `yaml:"weverse"`
	Cache       CacheConfig     `yaml:"cache"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// IsProduction reports whether the gateway runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error; empty = by environment
}

// SlogLevel resolves the configured level. Without one, production logs
// at info and everything else at debug.
func (l LogConfig) SlogLevel(production bool) slog.Level {
	var lvl slog.Level
	if l.Level != "" && lvl.UnmarshalText([]byte(l.Level)) == nil {
		return lvl
	}
	if production {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// WeverseConfig holds the upstream account used for auto-login.
type WeverseConfig struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	AutoLogin bool   `yaml:"auto_login"`
}

// HasCredentials reports whether both email and password are set.
func (w WeverseConfig) HasCredentials() bool {
	return w.Email != "" && w.Password != ""
}

// RateLimitConfig holds the per-client request ceiling.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    int64         `yaml:"max"`
	// Always applies the limiter outside production too.
	Always bool `yaml:"always"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// UpstreamConfig holds Weverse API endpoints and call bounds.
type UpstreamConfig struct {
	AccountURL   string        `yaml:"account_url"`
	APIURL       string        `yaml:"api_url"`
	Timeout      time.Duration `yaml:"timeout"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
	DNSRefresh   time.Duration `yaml:"dns_refresh"` // 0 = no DNS caching
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the upstream circuit breaker.
type BreakerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ErrorThreshold float64       `yaml:"error_threshold"`
	MinSamples     int           `yaml:"min_samples"`
	Window         time.Duration `yaml:"window"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy      bool          `yaml:"trust_proxy"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Addr:            ":3001",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Weverse: WeverseConfig{
			AutoLogin: true,
		},
		RateLimit: RateLimitConfig{
			Window: 15 * time.Minute,
			Max:    100,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 60 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout:      10 * time.Second,
			LoginTimeout: 10 * time.Second,
			DNSRefresh:   5 * time.Minute,
			Breaker: BreakerConfig{
				Enabled:        true,
				ErrorThreshold: 0.5,
				MinSamples:     5,
				Window:         30 * time.Second,
				OpenTimeout:    15 * time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables,
// then applies environment overrides. A missing file at path is not an
// error: defaults and the environment still apply. An empty path skips the
// file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the conventional process environment variables.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("APP_ENV"); ok && v != "" {
		cfg.Environment = v
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		cfg.Server.Addr = net.JoinHostPort("", v)
	}
	if v, ok := os.LookupEnv("WEVERSE_EMAIL"); ok {
		cfg.Weverse.Email = v
	}
	if v, ok := os.LookupEnv("WEVERSE_PASSWORD"); ok {
		cfg.Weverse.Password = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Cache.Enabled && c.Cache.DefaultTTL <= 0 {
		return errors.New("config: cache.default_ttl must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		return errors.New("config: rate_limit.window and rate_limit.max must be positive")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("config: upstream.timeout must be positive")
	}
	return nil
}
