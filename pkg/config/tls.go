package config

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field       string
	Value       any
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// WithSuggestion appends a remediation hint.
func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// NewConfigMissingError reports a required field that was left empty.
func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

// NewConfigValidationError reports a field with an unusable value.
func NewConfigValidationError(field string, value any, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// TLSVersion represents supported TLS protocol versions
type TLSVersion string

const (
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

// ParseTLSVersion converts a string to a TLSVersion with validation
func ParseTLSVersion(version string) (TLSVersion, error) {
	if version == "" {
		return TLSVersion12, nil
	}

	normalized := strings.TrimSpace(version)
	switch TLSVersion(normalized) {
	case TLSVersion12, TLSVersion13:
		return TLSVersion(normalized), nil
	default:
		return "", fmt.Errorf("unsupported TLS version %q", version)
	}
}

// TLSConfig represents TLS termination configuration
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version,omitempty"`
}

// Validate performs validation of TLS configuration
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("cert_file").
			WithSuggestion("Provide a path to a valid TLS certificate file")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("key_file").
			WithSuggestion("Provide a path to the private key matching the certificate")
	}
	if _, err := ParseTLSVersion(c.MinVersion); err != nil {
		return NewConfigValidationError("min_version", c.MinVersion, err.Error()).
			WithSuggestion("Use 1.2 or 1.3")
	}

	return nil
}

// ServerTLS builds the crypto/tls settings for the listener. Certificates
// are loaded by the server from CertFile and KeyFile.
func (c *TLSConfig) ServerTLS() *tls.Config {
	if c == nil || !c.Enabled {
		return nil
	}
	minVersion := uint16(tls.VersionTLS12)
	if v, _ := ParseTLSVersion(c.MinVersion); v == TLSVersion13 {
		minVersion = tls.VersionTLS13
	}
	return &tls.Config{MinVersion: minVersion}
}
