// Package config provides configuration structures and loading logic for the
// AIBDP enforcement server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is left empty.
const (
	DefaultAddress      = ":3000"
	DefaultManifestPath = ".well-known/aibdp.json"
	DefaultRedisKey     = "aibdp:manifest"
	DefaultCacheTTL     = time.Hour
	DefaultMetricsPath  = "/metrics"
	DefaultServiceName  = "aibdp"
)

// Config holds the global configuration for the server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Manifest    ManifestConfig    `yaml:"manifest"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLS          *TLSConfig    `yaml:"tls,omitempty"`
}

// ManifestConfig selects where the AIBDP manifest is loaded from. A Redis
// URL takes precedence over the file path.
type ManifestConfig struct {
	Path     string        `yaml:"path"`
	RedisURL string        `yaml:"redis_url"`
	RedisKey string        `yaml:"redis_key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// Watch reloads a file manifest as soon as it changes on disk.
	Watch bool `yaml:"watch"`
}

// EnforcementConfig holds the policy engine options.
type EnforcementConfig struct {
	EnforceForAll bool   `yaml:"enforce_for_all"`
	RegoFile      string `yaml:"rego_file"`
	RegoQuery     string `yaml:"rego_query"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Address: DefaultAddress},
		Manifest: ManifestConfig{Path: DefaultManifestPath, CacheTTL: DefaultCacheTTL},
		Metrics:  MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("AIBDP_ADDR"); val != "" {
		cfg.Server.Address = val
	}

	if val := os.Getenv("AIBDP_MANIFEST_PATH"); val != "" {
		cfg.Manifest.Path = val
	}
	if val := os.Getenv("AIBDP_REDIS_URL"); val != "" {
		cfg.Manifest.RedisURL = val
	}
	if val := os.Getenv("AIBDP_REDIS_KEY"); val != "" {
		cfg.Manifest.RedisKey = val
	}
	if val := os.Getenv("AIBDP_CACHE_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("AIBDP_CACHE_TTL: %w", err)
		}
		cfg.Manifest.CacheTTL = ttl
	}

	if val := os.Getenv("AIBDP_ENFORCE_ALL"); val != "" {
		enforce, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("AIBDP_ENFORCE_ALL: %w", err)
		}
		cfg.Enforcement.EnforceForAll = enforce
	}
	if val := os.Getenv("AIBDP_REGO_FILE"); val != "" {
		cfg.Enforcement.RegoFile = val
	}

	if val := os.Getenv("AIBDP_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("AIBDP_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("AIBDP_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("AIBDP_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	return nil
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Manifest.Validate(); err != nil {
		return fmt.Errorf("manifest configuration: %w", err)
	}

	if err := c.Enforcement.Validate(); err != nil {
		return fmt.Errorf("enforcement configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = DefaultAddress
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}

	return nil
}

// Validate performs validation of manifest configuration
func (c *ManifestConfig) Validate() error {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	if c.RedisURL == "" && strings.TrimSpace(c.Path) == "" {
		c.Path = DefaultManifestPath
	}
	if c.RedisURL != "" && strings.TrimSpace(c.RedisKey) == "" {
		c.RedisKey = DefaultRedisKey
	}
	if c.RedisURL != "" && c.Watch {
		return errors.New("watch is only supported for file manifests")
	}

	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("invalid cache_ttl %s", c.CacheTTL)
	}

	return nil
}

// Validate performs validation of enforcement configuration
func (c *EnforcementConfig) Validate() error {
	if c.RegoQuery != "" && c.RegoFile == "" {
		return errors.New("rego_query requires rego_file")
	}
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = DefaultServiceName
	}
	return nil
}

// Validate performs validation of metrics configuration
func (c *MetricsConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = DefaultMetricsPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("metrics path %q must start with /", c.Path)
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}

	return nil
}
