package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// process is a running kernel executable.
type process struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	logger *slog.Logger

	mu      sync.Mutex
	done    chan struct{} // Closed when the process exits
	exitErr error
}

// startProcess launches the kernel in its own process group.
// The process outlives the context of the call that started it.
func startProcess(id string, cfg Config, logger *slog.Logger) (*process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	// Wait closes pipes made by StdoutPipe as soon as the process exits,
	// which can discard its last lines. An os.Pipe stays readable until EOF.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stdoutW.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("start kernel process: %w", err)
	}
	_ = stdoutW.Close()

	p := &process{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		logger: logger,
		done:   make(chan struct{}),
	}

	go p.drainStderr()
	go p.waitForExit()

	logger.Debug("kernel process started",
		slog.String("kernel", id),
		slog.String("command", cfg.Command),
		slog.Int("pid", cmd.Process.Pid))
	return p, nil
}

// stop waits up to timeout for the process to exit on its own, then kills
// its process group. Close stdin first to let the kernel exit cleanly.
func (p *process) stop(timeout time.Duration) {
	select {
	case <-p.done:
	case <-time.After(timeout):
		if err := killProcessGroup(p.cmd); err != nil {
			p.logger.Debug("kill kernel process group", slog.String("kernel", p.id), slog.Any("error", err))
		}
		<-p.done
	}
	// Unblocks the reader if a leftover child still holds stdout open.
	_ = p.stdout.Close()
	p.logger.Debug("kernel process stopped", slog.String("kernel", p.id), slog.Any("exit", p.ExitError()))
}

// Done is closed when the process exits.
func (p *process) Done() <-chan struct{} {
	return p.done
}

// ExitError returns the error from the process exit, if any.
func (p *process) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *process) waitForExit() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	close(p.done)
}

// drainStderr logs stderr output line by line.
func (p *process) drainStderr() {
	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		p.logger.Debug("kernel stderr",
			slog.String("kernel", p.id),
			slog.String("output", scanner.Text()))
	}
}
