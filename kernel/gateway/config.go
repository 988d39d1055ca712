package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultKernelName is the kernel spec requested when none is configured.
const DefaultKernelName = "python3"

// Config holds gateway backend configuration.
type Config struct {
	// URL is the gateway base URL, e.g. "http://localhost:8888".
	// Required.
	URL string `json:"url" yaml:"url"`

	// Token is sent as "Authorization: token <Token>" when set.
	Token string `json:"token" yaml:"token"`

	// KernelName selects the kernel spec.
	// Default: "python3".
	KernelName string `json:"kernel_name" yaml:"kernel_name"`

	// StartupTimeout bounds kernel creation and the kernel_info handshake.
	// Default: 30 seconds.
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout"`

	// ShutdownTimeout bounds the shutdown handshake and kernel deletion.
	// Default: 5 seconds.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KernelName:      DefaultKernelName,
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
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
	if c.KernelName == "" {
		c.KernelName = defaults.KernelName
	}
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

// WithToken sets the gateway token.
func WithToken(token string) Option {
	return func(p *Provisioner) { p.cfg.Token = token }
}

// WithKernelName sets the kernel spec name.
func WithKernelName(name string) Option {
	return func(p *Provisioner) { p.cfg.KernelName = name }
}

// WithStartupTimeout sets the startup timeout.
func WithStartupTimeout(d time.Duration) Option {
	return func(p *Provisioner) { p.cfg.StartupTimeout = d }
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Provisioner) { p.cfg.ShutdownTimeout = d }
}

// WithHTTPClient sets a custom HTTP client for the REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provisioner) { p.http = client }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}
