package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"dbmcp/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the given file path. An empty path or a
// missing file yields the defaults; a present but malformed file is an
// error. Defaults are applied before validation so a sparse file works.
func Load(path string) (Config, error) {
	cfg := GetDefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "no configuration file at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading configuration %s: %w", path, err)
	}

	cfg, err = Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("loading configuration %s: %w", path, err)
	}
	logging.Info("Config", "loaded configuration from %s", path)
	return cfg, nil
}

// Parse decodes YAML configuration bytes. Unknown keys are rejected so a
// typoed field fails loudly instead of silently falling back to a default.
// Empty input yields the defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return GetDefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("parsing configuration: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}
