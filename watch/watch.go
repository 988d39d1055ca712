package watch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type config struct {
	interval time.Duration
	debounce time.Duration
	polling  bool
	logger   *slog.Logger
}

// Option configures File.
type Option func(*config)

// WithInterval sets the polling interval. Default: 250ms.
func WithInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

// WithDebounce sets how long events must settle before the file is read.
// Default: 50ms.
func WithDebounce(d time.Duration) Option {
	return func(c *config) { c.debounce = d }
}

// WithPolling skips fsnotify and polls the file.
func WithPolling() Option {
	return func(c *config) { c.polling = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// File returns a channel carrying the content of path, first as it is now
// and then after every change. Consecutive identical contents are sent
// once. The channel is closed when ctx is done.
func File(ctx context.Context, path string, opts ...Option) (<-chan []byte, error) {
	cfg := config{
		interval: 250 * time.Millisecond,
		debounce: 50 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	initial, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watched file: %w", err)
	}

	w := &watcher{path: path, cfg: cfg, ch: make(chan []byte, 1), last: initial}
	w.ch <- initial

	if cfg.polling {
		go w.poll(ctx)
		return w.ch, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		cfg.logger.Debug("fsnotify unavailable, polling", slog.Any("error", err))
		go w.poll(ctx)
		return w.ch, nil
	}
	// Watch the directory, which survives the file being replaced.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		cfg.logger.Debug("watch directory failed, polling", slog.Any("error", err))
		go w.poll(ctx)
		return w.ch, nil
	}

	go w.notify(ctx, fw)
	return w.ch, nil
}

type watcher struct {
	path string
	cfg  config
	ch   chan []byte
	last []byte
}

func (w *watcher) notify(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.ch)
	defer fw.Close()

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			settle.Reset(w.cfg.debounce)

		case <-settle.C:
			if !w.emit(ctx) {
				return
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.cfg.logger.Debug("watch error", slog.String("path", w.path), slog.Any("error", err))
		}
	}
}

func (w *watcher) poll(ctx context.Context) {
	defer close(w.ch)

	ticker := time.NewTicker(w.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.emit(ctx) {
				return
			}
		}
	}
}

// emit reads the file and sends it if it changed. It returns false once
// ctx is done.
func (w *watcher) emit(ctx context.Context) bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// Mid-replace or deleted; the next event or tick retries.
		w.cfg.logger.Debug("read watched file", slog.String("path", w.path), slog.Any("error", err))
		return ctx.Err() == nil
	}
	if bytes.Equal(data, w.last) {
		return ctx.Err() == nil
	}
	w.last = data

	select {
	case w.ch <- data:
		return true
	case <-ctx.Done():
		return false
	}
}
