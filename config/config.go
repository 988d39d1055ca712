package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/kernelmux/kernel"
	"github.com/randalmurphal/kernelmux/session"
)

// Config is the top-level kernelmux configuration.
type Config struct {
	// Kernel selects and configures the kernel backend.
	Kernel kernel.Config `json:"kernel" yaml:"kernel" toml:"kernel"`

	// Manager configures session lifetimes.
	Manager ManagerConfig `json:"manager" yaml:"manager" toml:"manager"`

	// DefaultSession is the session started and selected on launch.
	// Default: "main"
	DefaultSession string `json:"default_session" yaml:"default_session" toml:"default_session"`

	// LogLevel is the minimum level logged.
	// Default: "warn"
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// ManagerConfig mirrors the session.Manager options.
type ManagerConfig struct {
	// MaxSessions caps concurrently running sessions.
	// Default: 100
	MaxSessions int `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions" jsonschema:"minimum=1"`

	// SessionTTL stops sessions idle for longer than this. Zero disables it.
	SessionTTL time.Duration `json:"session_ttl" yaml:"session_ttl" toml:"session_ttl"`

	// CleanupInterval is how often idle sessions are looked for.
	// Default: 5 minutes
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" toml:"cleanup_interval"`

	// ReapTimeout bounds the shutdown of an idle session.
	// Default: 30 seconds
	ReapTimeout time.Duration `json:"reap_timeout" yaml:"reap_timeout" toml:"reap_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kernel: kernel.DefaultConfig(),
		Manager: ManagerConfig{
			MaxSessions:     100,
			CleanupInterval: 5 * time.Minute,
			ReapTimeout:     30 * time.Second,
		},
		DefaultSession: "main",
		LogLevel:       "warn",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Kernel.Validate(); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}
	if c.Manager.MaxSessions < 1 {
		return fmt.Errorf("manager: max_sessions must be >= 1, got %d", c.Manager.MaxSessions)
	}
	if c.Manager.SessionTTL < 0 {
		return fmt.Errorf("manager: session_ttl must be >= 0")
	}
	if c.Manager.CleanupInterval <= 0 {
		return fmt.Errorf("manager: cleanup_interval must be > 0")
	}
	if c.Manager.ReapTimeout <= 0 {
		return fmt.Errorf("manager: reap_timeout must be > 0")
	}
	if c.DefaultSession == "" {
		return fmt.Errorf("default_session is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Options converts the manager settings to session.Manager options.
func (m ManagerConfig) Options() []session.ManagerOption {
	return []session.ManagerOption{
		session.WithMaxSessions(m.MaxSessions),
		session.WithSessionTTL(m.SessionTTL),
		session.WithCleanupInterval(m.CleanupInterval),
		session.WithReapTimeout(m.ReapTimeout),
	}
}

// Load reads the file at path over DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext (".toml", ".yaml", ".yml"
// or ".json") over DefaultConfig and validates the result.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := DefaultConfig()

	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 && !allOptions(undecoded) {
			return nil, fmt.Errorf("parse TOML: unknown keys %v", undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// allOptions reports whether every undecoded key lives under kernel.options,
// which decodes into a free-form map.
func allOptions(keys []toml.Key) bool {
	for _, k := range keys {
		if len(k) < 2 || k[0] != "kernel" || k[1] != "options" {
			return false
		}
	}
	return true
}
