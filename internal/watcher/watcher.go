// Package watcher bridges events from outside the controller into it.
//
// Two kinds of input are handled:
//   - Feeds: outcomes of changes made elsewhere (the tray) and window focus
//     changes, published by the HTTP API
//   - Sources: ambient network change detectors such as netlink address and
//     link updates or a polled resolver file
//
// Feed events are delivered immediately. Network changes are debounced into a
// single refresh because a reconnect produces bursts of updates. Delivery is
// at-least-once; the controller tolerates duplicates.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
	"gitlab.bluewillows.net/root/dnsswitch/internal/reconciler"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// Event source names, used as metric labels.
const (
	SourceTray       = "tray"
	SourceFocus      = "focus"
	SourceNetlink    = "netlink"
	SourceResolvConf = "resolvconf"
)

// Controller receives bridged events.
type Controller interface {
	OnExternalChange(ctx context.Context, outcome backend.Outcome) reconciler.TaskID
	OnFocusRegained(ctx context.Context)
	OnNetworkChange(ctx context.Context)
}

// Source reports network changes by calling notify until ctx is cancelled or
// the underlying subscription fails.
type Source interface {
	Name() string
	Run(ctx context.Context, notify func()) error
}

// Config holds watcher configuration.
type Config struct {
	// DebounceInterval is the quiet period after the last network change
	// before a refresh is requested.
	// Default: 2 seconds
	DebounceInterval time.Duration

	// ReconnectInterval is the time to wait before restarting a failed source.
	// Default: 5 seconds
	ReconnectInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceInterval:  2 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// Watcher delivers feed events and debounced network changes to a Controller.
type Watcher struct {
	controller Controller
	feeds      *Feeds
	sources    []Source
	config     Config
	logger     *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	debounce *time.Timer
	wg       sync.WaitGroup
}

// Option is a functional option for configuring the Watcher.
type Option func(*Watcher)

// WithConfig sets the watcher configuration.
func WithConfig(cfg Config) Option {
	return func(w *Watcher) {
		w.config = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSource adds a network change source. Nil sources are ignored.
func WithSource(s Source) Option {
	return func(w *Watcher) {
		if s != nil {
			w.sources = append(w.sources, s)
		}
	}
}

// New creates a watcher that reads from feeds and any configured sources.
func New(controller Controller, feeds *Feeds, opts ...Option) *Watcher {
	w := &Watcher{
		controller: controller,
		feeds:      feeds,
		config:     DefaultConfig(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins delivering events.
// This method is non-blocking; it starts goroutines and returns immediately.
// Call Stop() to halt watching.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.ctx = ctx
	w.running = true

	if w.feeds != nil {
		w.wg.Add(1)
		go w.feedLoop(ctx)
	}
	names := make([]string, 0, len(w.sources))
	for _, s := range w.sources {
		names = append(names, s.Name())
		w.wg.Add(1)
		go w.sourceLoop(ctx, s)
	}
	w.mu.Unlock()

	w.logger.Info("event bridge started",
		slog.Any("sources", names),
		slog.Duration("debounce", w.config.DebounceInterval),
	)

	return nil
}

// Stop halts the watcher and waits for its goroutines to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}

	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}

	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	if wasRunning {
		w.logger.Info("event bridge stopped")
	}
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running && w.ctx.Err() == nil
}

func (w *Watcher) feedLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case outcome := <-w.feeds.external:
			metrics.ExternalEventsTotal.WithLabelValues(SourceTray).Inc()
			id := w.controller.OnExternalChange(ctx, outcome)
			w.logger.Debug("external change delivered",
				slog.Bool("success", outcome.Success),
				slog.Uint64("verification", uint64(id)),
			)

		case focused := <-w.feeds.focus:
			metrics.ExternalEventsTotal.WithLabelValues(SourceFocus).Inc()
			if !focused {
				continue
			}
			w.logger.Debug("focus regained, resynchronizing")
			w.controller.OnFocusRegained(ctx)
		}
	}
}

func (w *Watcher) sourceLoop(ctx context.Context, s Source) {
	defer w.wg.Done()

	for {
		err := s.Run(ctx, func() { w.handleNetworkChange(s.Name()) })
		if ctx.Err() != nil {
			return
		}

		attrs := []any{
			slog.String("source", s.Name()),
			slog.Duration("retry_in", w.config.ReconnectInterval),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		w.logger.Warn("network change source stopped, restarting", attrs...)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.ReconnectInterval):
		}
	}
}

// handleNetworkChange restarts the debounce timer. The refresh runs once the
// source has been quiet for DebounceInterval.
func (w *Watcher) handleNetworkChange(source string) {
	metrics.ExternalEventsTotal.WithLabelValues(source).Inc()
	w.logger.Debug("network change detected", slog.String("source", source))

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	ctx := w.ctx
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.config.DebounceInterval, func() {
		w.triggerRefresh(ctx)
	})
}

func (w *Watcher) triggerRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.logger.Info("refreshing DNS state due to network change")
	w.controller.OnNetworkChange(ctx)
}

// TriggerNow requests a refresh immediately, bypassing debounce.
func (w *Watcher) TriggerNow() {
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	ctx := w.ctx
	w.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	w.triggerRefresh(ctx)
}
