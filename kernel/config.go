package kernel

import (
	"fmt"
	"time"
)

// Config holds configuration for creating a kernel Provisioner.
// Common fields apply to all backends; use Options for backend-specific settings.
type Config struct {
	// Backend is the registered backend name.
	// Required. Values: "subprocess", "gateway"
	Backend string `json:"backend" yaml:"backend" toml:"backend" jsonschema:"enum=subprocess,enum=gateway"`

	// StartupTimeout bounds kernel start including the readiness handshake.
	// Default: 30 seconds.
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout" toml:"startup_timeout"`

	// ShutdownTimeout bounds a graceful shutdown before the kernel is killed.
	// Default: 5 seconds.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	// Options holds backend-specific configuration.
	//
	// Subprocess:
	//   - "command": string (kernel executable)
	//   - "args": []string
	//   - "work_dir": string
	//   - "env": map[string]string
	//
	// Gateway:
	//   - "url": string (e.g. "http://localhost:8888")
	//   - "token": string
	//   - "kernel_name": string (kernelspec, default "python3")
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:         "subprocess",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("backend is required")
	}
	if c.StartupTimeout < 0 {
		return fmt.Errorf("startup_timeout must be >= 0, got %v", c.StartupTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	return nil
}

// WithDefaults returns a copy of the config with defaults applied for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = defaults.StartupTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return c
}

// WithOption returns a copy of the config with the specified option set.
func (c Config) WithOption(key string, value any) Config {
	opts := make(map[string]any, len(c.Options)+1)
	for k, v := range c.Options {
		opts[k] = v
	}
	opts[key] = value
	c.Options = opts
	return c
}

// GetStringOption retrieves a string option, returning defaultVal if not set.
func (c Config) GetStringOption(key, defaultVal string) string {
	if v, ok := c.Options[key].(string); ok {
		return v
	}
	return defaultVal
}

// GetStringSliceOption retrieves a string slice option, returning nil if not set.
// Handles both []string and []any (from JSON, YAML and TOML decoding).
func (c Config) GetStringSliceOption(key string) []string {
	switch v := c.Options[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// GetStringMapOption retrieves a string map option, returning nil if not set.
// Handles map[string]string and map[string]any.
func (c Config) GetStringMapOption(key string) map[string]string {
	switch v := c.Options[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		result := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				result[k] = s
			}
		}
		return result
	}
	return nil
}
