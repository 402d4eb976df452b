// Package config loads the daemon configuration from YAML and reloads
// it when the file changes on disk.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListen              = ":8080"
	DefaultDatabase            = "fleetd.db"
	DefaultControlPlaneTimeout = 10 * time.Second
	DefaultLogLevel            = "info"
)

// Config is the top-level daemon configuration.
type Config struct {
	// Listen is the address the HTTP API binds to (host:port).
	Listen string `yaml:"listen"`

	// Database is the filesystem path of the SQLite database file.
	Database string `yaml:"database"`

	// ControlPlane configures delivery of update notifications.
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// ControlPlaneConfig configures the downstream notification target.
type ControlPlaneConfig struct {
	// Endpoint is the URL update notifications are POSTed to. Empty
	// disables notifications.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level to its slog equivalent.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path. Unknown keys are
// rejected; missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML config bytes. An empty document
// yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Listen:   DefaultListen,
		Database: DefaultDatabase,
		ControlPlane: ControlPlaneConfig{
			Timeout: DefaultControlPlaneTimeout,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database is required")
	}
	if cfg.ControlPlane.Timeout <= 0 {
		return fmt.Errorf("control_plane.timeout must be positive")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	return nil
}
