// Package config holds runtime configuration for the platform, loaded
// from defaults, an optional YAML file, and environment variables, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config holds configuration settings for the platform server.
	Config struct {
		// Storage
		DatabasePath string `yaml:"database_path"`
		TablePrefix  string `yaml:"table_prefix"`

		// API server
		APIHost  string `yaml:"api_host"`
		APIPort  int    `yaml:"api_port"`
		LogLevel string `yaml:"log_level"`

		// Query engine
		MaxPageSize  int           `yaml:"max_page_size"`
		QueryTimeout time.Duration `yaml:"query_timeout"`

		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	}
)

const (
	DefaultDatabasePath = "dynabo.db"
	DefaultTablePrefix  = "bo_"

	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8080
	MaxTCPPort     = 65535

	DefaultMaxPageSize     = 100
	MaxMaxPageSize         = 10_000
	DefaultQueryTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	ErrInvalidAPIPort      = errors.New("invalid API port")
	ErrInvalidDatabasePath = errors.New("database path cannot be empty")
	ErrInvalidMaxPageSize  = errors.New("max page size must be positive")
	ErrInvalidQueryTimeout = errors.New("query timeout must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for
// all platform settings.
func NewDefaultConfig() *Config {
	return &Config{
		DatabasePath:    DefaultDatabasePath,
		TablePrefix:     DefaultTablePrefix,
		APIHost:         DefaultAPIHost,
		APIPort:         DefaultAPIPort,
		LogLevel:        "info",
		MaxPageSize:     DefaultMaxPageSize,
		QueryTimeout:    DefaultQueryTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFile merges settings from a YAML config file. A missing file is
// not an error; a malformed one is.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv populates configuration values from environment
// variables. Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		c.DatabasePath = path
	}
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		c.TablePrefix = prefix
	}
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_PAGE_SIZE", &c.MaxPageSize, 0, MaxMaxPageSize,
	); err != nil {
		return err
	}
	if err := loadEnvDuration("QUERY_TIMEOUT", &c.QueryTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout,
	); err != nil {
		return err
	}
	return nil
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return ErrInvalidDatabasePath
	}
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.MaxPageSize <= 0 {
		return ErrInvalidMaxPageSize
	}
	if c.QueryTimeout <= 0 {
		return ErrInvalidQueryTimeout
	}
	return nil
}

// ListenAddr returns the host:port address the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// loadEnvInt reads key from the environment, parses it as an integer,
// and sets *dst if the value is in the range (min, max). Returns an
// error if the value cannot be parsed or falls outside the valid range.
func loadEnvInt(key string, dst *int, min, max int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if v <= min || v > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, v, min+1, max)
	}
	*dst = v
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be positive", key)
	}
	*dst = d
	return nil
}
