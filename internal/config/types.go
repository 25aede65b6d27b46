package config

import (
	"fmt"
	"strings"

	"dbmcp/pkg/logging"
)

// TransportMode selects how the server multiplexes protocol sessions.
// It is fixed for the process lifetime.
type TransportMode string

const (
	// ModeStateful keeps a session registry and supports push streams.
	ModeStateful TransportMode = "stateful"
	// ModeStateless binds every request to one shared engine; no session
	// identifiers and no push streams.
	ModeStateless TransportMode = "stateless"
)

// Config is the top-level configuration structure for dbmcp.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig defines the HTTP transport layer configuration.
type TransportConfig struct {
	Host             string        `yaml:"host,omitempty"`             // Host to bind to (default: localhost)
	Port             int           `yaml:"port,omitempty"`             // Port to listen on (default: 8080)
	Endpoint         string        `yaml:"endpoint,omitempty"`         // Protocol endpoint path (default: /mcp)
	Mode             TransportMode `yaml:"mode,omitempty"`             // stateful or stateless (default: stateful)
	KeepAliveSeconds int           `yaml:"keepAliveSeconds,omitempty"` // SSE keep-alive interval; 0 disables (default: 30)
	HistorySize      int           `yaml:"historySize,omitempty"`      // Per-session replay buffer entries (default: 256)
	MaxSessions      int           `yaml:"maxSessions,omitempty"`      // Session registry cap (default: 10000)
}

// AuthConfig defines resource-side OAuth bearer-token validation.
// Token issuance is out of scope; dbmcp only validates.
type AuthConfig struct {
	Enabled          bool     `yaml:"enabled,omitempty"`          // Enforce bearer tokens on non-public routes
	Issuer           string   `yaml:"issuer,omitempty"`           // Authorization server base URL, used for discovery
	JWKSURI          string   `yaml:"jwksURI,omitempty"`          // Explicit key-set URI; skips discovery when set
	Audience         string   `yaml:"audience,omitempty"`         // Expected aud claim / resource identifier
	ScopesSupported  []string `yaml:"scopesSupported,omitempty"`  // Advertised in the protected-resource metadata
	PublicPaths      []string `yaml:"publicPaths,omitempty"`      // Extra paths exempt from the bearer gate
	ClockSkewSeconds int      `yaml:"clockSkewSeconds,omitempty"` // Validation leeway (default: 60)
	WriteScope       string   `yaml:"writeScope,omitempty"`       // Scope required by mutating tools; empty disables the check
}

// DatabaseConfig defines the embedded database backing the tool handlers.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"` // SQLite file path; empty means in-memory
}

// LoggingConfig defines log output behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn or error (default: info)
}

// GetDefaultConfig returns the configuration dbmcp runs with when no file
// and no flags are provided.
func GetDefaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			Host:             "localhost",
			Port:             8080,
			Endpoint:         "/mcp",
			Mode:             ModeStateful,
			KeepAliveSeconds: 30,
			HistorySize:      256,
			MaxSessions:      10000,
		},
		Auth: AuthConfig{
			ClockSkewSeconds: 60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// applyDefaults fills zero-valued fields so a sparse YAML file is runnable.
// Booleans and explicitly-empty strings keep their meaning (auth disabled,
// in-memory database).
func (c *Config) applyDefaults() {
	def := GetDefaultConfig()
	if c.Transport.Host == "" {
		c.Transport.Host = def.Transport.Host
	}
	if c.Transport.Port == 0 {
		c.Transport.Port = def.Transport.Port
	}
	if c.Transport.Endpoint == "" {
		c.Transport.Endpoint = def.Transport.Endpoint
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = def.Transport.Mode
	}
	if c.Transport.KeepAliveSeconds == 0 {
		c.Transport.KeepAliveSeconds = def.Transport.KeepAliveSeconds
	}
	if c.Transport.HistorySize == 0 {
		c.Transport.HistorySize = def.Transport.HistorySize
	}
	if c.Transport.MaxSessions == 0 {
		c.Transport.MaxSessions = def.Transport.MaxSessions
	}
	if c.Auth.ClockSkewSeconds == 0 {
		c.Auth.ClockSkewSeconds = def.Auth.ClockSkewSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate checks the configuration for contradictions that would make the
// server unable to start. It assumes defaults have been applied.
func (c *Config) Validate() error {
	if c.Transport.Port < 1 || c.Transport.Port > 65535 {
		return &ValidationError{Field: "transport.port", Message: fmt.Sprintf("port %d out of range", c.Transport.Port)}
	}
	if !strings.HasPrefix(c.Transport.Endpoint, "/") {
		return &ValidationError{Field: "transport.endpoint", Message: fmt.Sprintf("endpoint %q must start with /", c.Transport.Endpoint)}
	}
	switch c.Transport.Mode {
	case ModeStateful, ModeStateless:
	default:
		return &ValidationError{Field: "transport.mode", Message: fmt.Sprintf("unknown mode %q", c.Transport.Mode)}
	}
	if c.Transport.HistorySize < 0 {
		return &ValidationError{Field: "transport.historySize", Message: "historySize must not be negative"}
	}
	if c.Transport.MaxSessions < 1 {
		return &ValidationError{Field: "transport.maxSessions", Message: "maxSessions must be positive"}
	}
	if c.Auth.Enabled && c.Auth.Issuer == "" && c.Auth.JWKSURI == "" {
		return &ValidationError{Field: "auth", Message: "auth.enabled requires auth.issuer or auth.jwksURI"}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return &ValidationError{Field: "logging.level", Message: err.Error()}
	}
	return nil
}

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}
