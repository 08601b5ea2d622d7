// Package config holds flowkit settings loaded from defaults and the
// environment. Command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/flowkit/internal/store/redisstore"
)

type (
	// Config holds settings shared by the CLI commands and the server
	Config struct {
		// API Server
		APIHost         string
		APIPort         int
		ShutdownTimeout time.Duration
		LogLevel        string

		// Persistence. RedisAddr wins over DBPath when both are set; with
		// neither, runs are not persisted.
		DBPath      string
		RedisAddr   string
		RedisPrefix string

		// Engine
		MaxSteps    int
		HTTPTimeout time.Duration
	}
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FLOWKIT_"

const (
	DefaultAPIPort         = 8080
	DefaultAPIHost         = "0.0.0.0"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultLogLevel        = "info"
	MaxTCPPort             = 65535
	MaxMaxSteps            = 10_000_000
	MaxHTTPTimeout         = time.Hour
)

var (
	ErrInvalidAPIPort     = errors.New("invalid API port")
	ErrInvalidMaxSteps    = errors.New("max steps cannot be negative")
	ErrInvalidHTTPTimeout = errors.New("http timeout must be positive")
	ErrInvalidLogLevel    = errors.New("invalid log level")
)

// NewDefaultConfig creates a configuration with defaults for every setting
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:         DefaultAPIHost,
		APIPort:         DefaultAPIPort,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
		RedisPrefix:     redisstore.DefaultPrefix,
		HTTPTimeout:     DefaultHTTPTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvPrefix + "API_HOST"); v != "" {
		c.APIHost = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_PREFIX"); v != "" {
		c.RedisPrefix = v
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("MAX_STEPS", &c.MaxSteps, -1, MaxMaxSteps); err != nil {
		return err
	}
	if err := loadEnvDuration("HTTP_TIMEOUT", &c.HTTPTimeout, MaxHTTPTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, MaxHTTPTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSteps, c.MaxSteps)
	}
	if c.HTTPTimeout <= 0 {
		return ErrInvalidHTTPTimeout
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return level, nil
}

// Addr is the listen address of the API server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(EnvPrefix + key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %q", EnvPrefix, key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s%s: %d out of range [%d, %d]",
			EnvPrefix, key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvDuration(key string, dst *time.Duration, max time.Duration) error {
	s := os.Getenv(EnvPrefix + key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %q", EnvPrefix, key, s)
	}
	if d <= 0 || d > max {
		return fmt.Errorf("invalid %s%s: %s out of range (0, %s]",
			EnvPrefix, key, d, max)
	}
	*dst = d
	return nil
}
