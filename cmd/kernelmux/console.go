package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/randalmurphal/kernelmux/kernel"
	"github.com/randalmurphal/kernelmux/parser"
	"github.com/randalmurphal/kernelmux/router"
	"github.com/randalmurphal/kernelmux/session"
	"github.com/randalmurphal/kernelmux/watch"
)

const (
	promptInput    = ">>> "
	promptContinue = "... "
)

// console is a line-oriented frontend over a session manager. Every
// execution is submitted through the router and its output printed before
// the next prompt.
type console struct {
	mgr    *session.Manager
	router *router.Router
	out    io.Writer
	logger *slog.Logger

	active string
	block  []string
}

func newConsole(mgr *session.Manager, r *router.Router, out io.Writer, logger *slog.Logger) *console {
	return &console{mgr: mgr, router: r, out: out, logger: logger}
}

// start starts the named session and makes it the active one.
func (c *console) start(ctx context.Context, name string) error {
	if _, err := c.mgr.StartSession(ctx, name); err != nil {
		return err
	}
	c.active = name
	return nil
}

func (c *console) prompt() string {
	if len(c.block) > 0 {
		return promptContinue
	}
	return promptInput
}

// Run reads lines from in until EOF.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, "Multi-kernel console")
	fmt.Fprintln(c.out, "Type '%help' for session commands")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprint(c.out, c.prompt())
	for scanner.Scan() {
		c.handleLine(ctx, scanner.Text())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(c.out, c.prompt())
	}
	fmt.Fprintln(c.out)
	return scanner.Err()
}

func (c *console) handleLine(ctx context.Context, line string) {
	if len(c.block) > 0 {
		if strings.TrimSpace(line) != "" {
			c.block = append(c.block, line)
			return
		}
		code := strings.Join(c.block, "\n")
		c.block = nil
		c.execute(ctx, code)
		return
	}

	switch {
	case strings.TrimSpace(line) == "":
	case strings.HasPrefix(line, "%"):
		c.command(ctx, line)
	case opensBlock(line):
		c.block = []string{line}
	default:
		c.execute(ctx, line)
	}
}

// opensBlock reports whether line continues onto the next ones: a compound
// statement header or an explicit backslash continuation.
func opensBlock(line string) bool {
	line = strings.TrimRight(line, " \t")
	return strings.HasSuffix(line, ":") || strings.HasSuffix(line, `\`)
}

func (c *console) execute(ctx context.Context, code string) {
	if c.active == "" {
		fmt.Fprintln(c.out, "No active session. Use %switch <name>.")
		return
	}

	stream, err := c.router.RequestStream(ctx, c.mgr, c.active, code)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	defer stream.Close()

	for msg := range stream.All(ctx) {
		printMessage(c.out, msg, c.logger)
	}
	if err := stream.Err(); err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

// printMessage writes the user-visible part of a content message.
func printMessage(w io.Writer, msg kernel.Message, logger *slog.Logger) {
	logger.Debug("kernel message",
		slog.String("type", string(msg.Type())),
		slog.String("parent", msg.CorrelationID()))

	content, err := msg.Decode()
	if err != nil {
		logger.Debug("undecodable message", slog.Any("error", err))
		return
	}
	switch v := content.(type) {
	case *kernel.ExecuteResultContent:
		fmt.Fprintln(w, v.Text())
	case *kernel.StreamContent:
		fmt.Fprint(w, v.Text)
	case *kernel.ErrorContent:
		fmt.Fprintln(w, v.String())
	default:
		fmt.Fprintf(w, "%s\n", msg.Content)
	}
}

func (c *console) command(ctx context.Context, line string) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "%switch":
		if len(args) == 0 {
			c.help()
			return
		}
		if err := c.start(ctx, args[0]); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}

	case "%name":
		if c.active == "" {
			fmt.Fprintln(c.out, "No active session")
			return
		}
		fmt.Fprintf(c.out, "Name: %s\n", c.active)

	case "%sessions":
		for _, n := range c.mgr.List() {
			info, ok := c.mgr.Info(n)
			if !ok {
				continue
			}
			marker := " "
			if n == c.active {
				marker = "*"
			}
			fmt.Fprintf(c.out, "%s %-16s %-8s executions=%d\n", marker, n, info.Status, info.Executions)
		}

	case "%stop":
		if len(args) == 0 {
			c.help()
			return
		}
		if err := c.mgr.StopSession(ctx, args[0]); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if args[0] == c.active {
			c.active = ""
		}

	case "%reset":
		if err := c.mgr.StopAll(ctx); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if c.active != "" {
			if err := c.start(ctx, c.active); err != nil {
				c.active = ""
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}

	default:
		c.help()
	}
}

func (c *console) help() {
	fmt.Fprintln(c.out, "commands:")
	fmt.Fprintln(c.out, "%help - this message")
	fmt.Fprintln(c.out, "%switch <name> - start a session if needed and make it active")
	fmt.Fprintln(c.out, "%name - name of the active session")
	fmt.Fprintln(c.out, "%sessions - list running sessions")
	fmt.Fprintln(c.out, "%stop <name> - stop a session")
	fmt.Fprintln(c.out, "%reset - restart every kernel")
}

// watch executes path in the active session now and after every change.
// Markdown files run their fenced code blocks only.
func (c *console) watch(ctx context.Context, path string) error {
	changes, err := watch.File(ctx, path, watch.WithLogger(c.logger))
	if err != nil {
		return err
	}

	markdown := strings.EqualFold(filepath.Ext(path), ".md")
	for data := range changes {
		code := string(data)
		if markdown {
			code = parser.ExtractCode(code)
		}
		if strings.TrimSpace(code) == "" {
			continue
		}
		fmt.Fprintf(c.out, "--- %s\n", path)
		c.execute(ctx, code)
	}
	return ctx.Err()
}
