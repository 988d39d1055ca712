// Command kernelmux is a console for running code on several kernels at
// once and switching between them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/randalmurphal/kernelmux/config"
	"github.com/randalmurphal/kernelmux/kernel"
	_ "github.com/randalmurphal/kernelmux/kernel/backends"
	"github.com/randalmurphal/kernelmux/router"
	"github.com/randalmurphal/kernelmux/session"
)

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = verbosity(n)
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

// level maps the -v count onto slog levels: error, then warn, info, debug.
func (v verbosity) level() slog.Level {
	return slog.LevelError - slog.Level(4*int(v))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kernelmux:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to config file (.toml, .yaml or .json)")
		backend     = flag.String("backend", "", "Kernel backend: subprocess or gateway (overrides config)")
		kernelCmd   = flag.String("kernel", "", "Kernel command line for the subprocess backend (overrides config)")
		sessionName = flag.String("session", "", "Initial session name (overrides config)")
		watchFile   = flag.String("watch", "", "Execute this file in the session each time it changes")
		schema      = flag.Bool("schema", false, "Print the config file JSON schema and exit")
		verbose     verbosity
	)
	flag.Var(&verbose, "v", "Verbose logging (repeat for more)")
	flag.Parse()

	if *schema {
		data, err := config.Schema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	}
	if *backend != "" {
		cfg.Kernel.Backend = *backend
	}
	if fields := strings.Fields(*kernelCmd); len(fields) > 0 {
		cfg.Kernel = cfg.Kernel.WithOption("command", fields[0]).WithOption("args", fields[1:])
	}
	if *sessionName != "" {
		cfg.DefaultSession = *sessionName
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if verbose > 0 {
		level = verbose.level()
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	prov, err := kernel.New(cfg.Kernel)
	if err != nil {
		return fmt.Errorf("create kernel backend: %w", err)
	}

	mgr := session.NewManager(prov, append(cfg.Manager.Options(), session.WithLogger(logger))...)
	r := router.New(mgr, router.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	routed := make(chan error, 1)
	go func() { routed <- r.Run(ctx) }()

	c := newConsole(mgr, r, os.Stdout, logger)
	runErr := c.start(ctx, cfg.DefaultSession)
	if runErr == nil {
		if *watchFile != "" {
			runErr = c.watch(ctx, *watchFile)
		} else {
			runErr = interactive(ctx, c)
		}
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Kernel.ShutdownTimeout)
	defer cancel()
	closeErr := mgr.Close(shutdownCtx)

	select {
	case <-routed:
	case <-shutdownCtx.Done():
	}
	return errors.Join(runErr, closeErr)
}

// interactive runs the console on stdin until EOF or ctx ends. Reading
// stdin cannot be interrupted, so the read loop is left behind on ctx end.
func interactive(ctx context.Context, c *console) error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, os.Stdin) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
