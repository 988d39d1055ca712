package subprocess

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/kernelmux/kernel"
)

const backendName = "subprocess"

// Provisioner starts kernel processes.
type Provisioner struct {
	cfg    Config
	logger *slog.Logger
}

// NewProvisioner creates a provisioner running command with the given options.
func NewProvisioner(command string, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:    Config{Command: command},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cfg = p.cfg.WithDefaults()
	return p
}

// NewProvisionerWithConfig creates a provisioner from a Config.
func NewProvisionerWithConfig(cfg Config) *Provisioner {
	return &Provisioner{cfg: cfg.WithDefaults(), logger: slog.Default()}
}

// Config returns the provisioner configuration.
func (p *Provisioner) Config() Config {
	return p.cfg
}

// Start implements kernel.Provisioner. It launches the process and waits for
// the kernel_info handshake.
func (p *Provisioner) Start(ctx context.Context) (kernel.Client, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, kernel.NewError(backendName, "start", err)
	}

	id := uuid.NewString()
	proc, err := startProcess(id, p.cfg, p.logger)
	if err != nil {
		return nil, kernel.NewError(backendName, "start", err)
	}

	transport := newLineTransport(proc.stdout, proc.stdin, p.logger)
	c := &Client{
		Conn:    kernel.NewConn(id, transport, kernel.WithLogger(p.logger)),
		proc:    proc,
		timeout: p.cfg.ShutdownTimeout,
	}

	initCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()

	info, err := c.KernelInfo(initCtx)
	if err != nil {
		_ = c.Conn.Close()
		proc.stop(0)
		return nil, kernel.NewError(backendName, "start", fmt.Errorf("%w: %v", kernel.ErrNotReady, err))
	}

	p.logger.Debug("kernel ready",
		slog.String("kernel", id),
		slog.String("implementation", info.Implementation),
		slog.String("protocol_version", info.ProtocolVersion))
	return c, nil
}

// Client is a kernel running as a child process.
type Client struct {
	*kernel.Conn
	proc    *process
	timeout time.Duration
}

// Shutdown implements kernel.Client. It asks the kernel to shut down, closes
// its stdin and waits for the process to exit, killing the process group
// after the shutdown timeout.
func (c *Client) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.Conn.RequestShutdown(shutdownCtx)
	if kernel.IsClosed(err) {
		// Exited already, possibly right after replying.
		err = nil
	}
	_ = c.Conn.Close()

	remaining := c.timeout
	if deadline, ok := shutdownCtx.Deadline(); ok {
		remaining = max(time.Until(deadline), 0)
	}
	c.proc.stop(remaining)

	select {
	case <-c.Conn.Done():
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	if err != nil {
		return kernel.NewError(backendName, "shutdown", err)
	}
	return nil
}

// Pid returns the kernel's process id.
func (c *Client) Pid() int {
	return c.proc.cmd.Process.Pid
}

// Exited is closed when the kernel process has exited.
func (c *Client) Exited() <-chan struct{} {
	return c.proc.Done()
}
