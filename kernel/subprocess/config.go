package subprocess

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds subprocess backend configuration.
type Config struct {
	// Command is the kernel executable.
	// Required.
	Command string `json:"command" yaml:"command"`

	// Args are passed to Command.
	Args []string `json:"args" yaml:"args"`

	// WorkDir is the working directory for the kernel process.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Env provides additional environment variables for the kernel process.
	Env map[string]string `json:"env" yaml:"env"`

	// StartupTimeout is how long to wait for the kernel_info handshake.
	// Default: 30 seconds.
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout"`

	// ShutdownTimeout is how long to wait for the process to exit before
	// killing its process group.
	// Default: 5 seconds.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if c.StartupTimeout < 0 {
		return fmt.Errorf("startup_timeout must be >= 0")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be >= 0")
	}
	return nil
}

// WithDefaults returns a copy of the config with defaults applied for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.StartupTimeout == 0 {
		c.StartupTimeout = defaults.StartupTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return c
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithArgs sets the kernel arguments.
func WithArgs(args ...string) Option {
	return func(p *Provisioner) { p.cfg.Args = args }
}

// WithWorkDir sets the kernel working directory.
func WithWorkDir(dir string) Option {
	return func(p *Provisioner) { p.cfg.WorkDir = dir }
}

// WithEnv adds an environment variable for the kernel process.
func WithEnv(key, value string) Option {
	return func(p *Provisioner) {
		if p.cfg.Env == nil {
			p.cfg.Env = make(map[string]string)
		}
		p.cfg.Env[key] = value
	}
}

// WithStartupTimeout sets the handshake timeout.
func WithStartupTimeout(d time.Duration) Option {
	return func(p *Provisioner) { p.cfg.StartupTimeout = d }
}

// WithShutdownTimeout sets the graceful exit timeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Provisioner) { p.cfg.ShutdownTimeout = d }
}

// WithLogger sets the logger for process output and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}
