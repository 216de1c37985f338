// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Origin    OriginConfig    `yaml:"origin"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Precache  PrecacheConfig  `yaml:"precache"`
	Admin     AdminConfig     `yaml:"admin"`
	FetchLog  FetchLogConfig  `yaml:"fetch_log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OriginConfig holds settings for the upstream origin server.
type OriginConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	DNSCacheTTL  time.Duration `yaml:"dns_cache_ttl"` // 0 = no cached DNS
}

// CacheConfig holds cache store settings.
type CacheConfig struct {
	// Generation is the current cache generation version. Bumping it is the
	// sole mechanism for forcing clients to discard all cached entries.
	Generation       string `yaml:"generation"`
	MemoryMaxEntries int    `yaml:"memory_max_entries"`
	RefreshQueueSize int    `yaml:"refresh_queue_size"`
	RefreshWorkers   int    `yaml:"refresh_workers"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// PrecacheConfig lists the assets written at install time.
type PrecacheConfig struct {
	// Shell is the ordered list of root-relative same-origin paths that make
	// up the application shell. Install is all-or-nothing over this list.
	Shell []string `yaml:"shell"`
	// External is the list of absolute https cross-origin dependency URLs,
	// precached best-effort with credentials omitted.
	External []string `yaml:"external"`
	// AppManifest is the root-relative path of the web app manifest. When
	// set, its icon paths are appended to the shell list at install time.
	AppManifest string `yaml:"app_manifest"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Key string `yaml:"key"` // plaintext admin key, hashed at startup
}

// FetchLogConfig controls the served-request log.
type FetchLogConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
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

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Default returns a Config populated with defaults for every field a
// deployment may omit.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Origin: OriginConfig{
			Timeout:      30 * time.Second,
			MaxBodyBytes: 32 << 20,
			DNSCacheTTL:  5 * time.Minute,
		},
		Cache: CacheConfig{
			Generation:       "v1",
			MemoryMaxEntries: 4096,
			RefreshQueueSize: 1024,
			RefreshWorkers:   4,
		},
		Database: DatabaseConfig{
			DSN: "shellcache.db",
		},
		FetchLog: FetchLogConfig{
			Enabled:   true,
			Retention: 7 * 24 * time.Hour,
		},
	}
}

// Validate checks the fields no deployment can do without.
func (c *Config) Validate() error {
	if c.Origin.BaseURL == "" {
		return fmt.Errorf("origin.base_url is required")
	}
	if c.Cache.Generation == "" {
		return fmt.Errorf("cache.generation must not be empty")
	}
	return nil
}
