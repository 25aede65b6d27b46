package app

import (
	"dbmcp/internal/config"
)

// Config holds the runtime options assembled by the CLI layer before the
// application boots.
type Config struct {
	// Debug forces debug-level logging regardless of the configured level.
	Debug bool

	// Silent discards all log output. Used by tests.
	Silent bool

	// ConfigPath is the optional YAML configuration file. Empty means
	// defaults plus flag overrides.
	ConfigPath string

	// Overrides are the flag values applied on top of the loaded file.
	Overrides Overrides

	// File is the effective configuration, populated during bootstrap.
	File *config.Config
}

// NewConfig creates a new application configuration.
func NewConfig(debug bool, configPath string, overrides Overrides) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Overrides:  overrides,
	}
}

// Overrides carries flag values that replace file settings. Zero values
// mean "not set" and leave the file value alone; AuthEnabled is a pointer
// because false is a meaningful override.
type Overrides struct {
	Host     string
	Port     int
	Endpoint string
	Mode     string
	DBPath   string

	AuthEnabled  *bool
	AuthIssuer   string
	AuthJWKSURI  string
	AuthAudience string
}

// Apply merges the set overrides into cfg.
func (o Overrides) Apply(cfg *config.Config) {
	if o.Host != "" {
		cfg.Transport.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Transport.Port = o.Port
	}
	if o.Endpoint != "" {
		cfg.Transport.Endpoint = o.Endpoint
	}
	if o.Mode != "" {
		cfg.Transport.Mode = config.TransportMode(o.Mode)
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}
	if o.AuthEnabled != nil {
		cfg.Auth.Enabled = *o.AuthEnabled
	}
	if o.AuthIssuer != "" {
		cfg.Auth.Issuer = o.AuthIssuer
	}
	if o.AuthJWKSURI != "" {
		cfg.Auth.JWKSURI = o.AuthJWKSURI
	}
	if o.AuthAudience != "" {
		cfg.Auth.Audience = o.AuthAudience
	}
}
