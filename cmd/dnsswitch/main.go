// dnsswitch switches the resolver configuration of the active network
// interface between well-known public DNS providers, a custom pair of
// servers and the automatic (DHCP) default. It keeps its view of the
// configuration in sync with the operating system and serves it over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/backends/dryrun"
	"gitlab.bluewillows.net/root/dnsswitch/backends/netsh"
	"gitlab.bluewillows.net/root/dnsswitch/backends/resolvconf"
	"gitlab.bluewillows.net/root/dnsswitch/backends/resolved"
	"gitlab.bluewillows.net/root/dnsswitch/internal/api"
	"gitlab.bluewillows.net/root/dnsswitch/internal/config"
	"gitlab.bluewillows.net/root/dnsswitch/internal/health"
	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/internal/privilege"
	"gitlab.bluewillows.net/root/dnsswitch/internal/reconciler"
	"gitlab.bluewillows.net/root/dnsswitch/internal/state"
	"gitlab.bluewillows.net/root/dnsswitch/internal/watcher"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/sshutil"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-01-03"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// sourceReconnectInterval is how long a failed network change source waits
// before resubscribing.
const sourceReconnectInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Load configuration first and fail fast on any error
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	g := cfg.Global

	logger := setupLogger(g.SlogLevel(), g.LogFormat)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("dnsswitch starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.String("backend", cfg.Backend.Type),
		slog.Bool("dry_run", g.DryRun),
		slog.String("config_file", cfg.File),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolver backend
	registry := backend.NewRegistry()
	registerBackendFactories(registry, logger)

	be, err := registry.Create(cfg.Backend.Type, cfg.Backend.Name, cfg.Backend.Settings)
	if err != nil {
		return fmt.Errorf("creating %s backend %q: %w", cfg.Backend.Type, cfg.Backend.Name, err)
	}
	if c, ok := be.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("closing backend", slog.String("error", err.Error()))
			}
		}()
	}

	// Controller and its collaborators
	notifier := notify.New(
		notify.WithLogger(logger),
		notify.WithConfig(notify.Config{
			Duration:     g.NotifyDuration,
			ExitDuration: g.NotifyExitDuration,
		}),
	)

	gateOpts := []privilege.Option{privilege.WithLogger(logger)}
	if g.DryRun {
		gateOpts = append(gateOpts, privilege.WithChecker(func() bool { return true }))
	}
	gate := privilege.New(gateOpts...)

	store := state.NewStore()
	rec := reconciler.New(be, store, notifier, gate,
		reconciler.WithLogger(logger),
		reconciler.WithConfig(reconciler.Config{
			SettleDelay:         g.SettleDelay,
			ExternalSettleDelay: g.ExternalSettleDelay,
			Debounce:            g.VerifyDebounce,
			HistorySize:         g.HistorySize,
		}),
	)
	defer rec.Close()

	// The first query may fail while the network is still coming up. The
	// backend readiness check reports it and the watcher retries on change.
	if err := rec.Init(ctx); err != nil {
		logger.Warn("initial DNS query failed", slog.String("error", err.Error()))
	}

	// Event bridge
	feeds := watcher.NewFeeds(watcher.DefaultFeedBuffer, logger)
	watcherOpts := []watcher.Option{
		watcher.WithLogger(logger),
		watcher.WithConfig(watcher.Config{
			DebounceInterval:  g.NetworkDebounce,
			ReconnectInterval: sourceReconnectInterval,
		}),
	}
	if g.WatchNetlink {
		watcherOpts = append(watcherOpts, watcher.WithSource(watcher.NewNetlinkSource(logger)))
	}
	if src := fileSource(be, g, logger); src != nil {
		watcherOpts = append(watcherOpts, watcher.WithSource(src))
	}
	bridge := watcher.New(rec, feeds, watcherOpts...)

	// HTTP: health, metrics and the control API on one listener
	server := health.New(g.HTTPPort,
		health.WithLogger(logger),
		health.WithVersion(Version),
		health.WithTimeout(g.ProbeTimeout+time.Second),
	)
	server.RegisterChecker("backend:"+be.Name(), health.BackendChecker(be))
	server.RegisterDegradedChecker("privilege", health.AdminChecker(rec.Admin, gate.Hint()))
	server.RegisterDegradedChecker("resolver", health.ResolverChecker(rec.State, g.ProbeTimeout, nil))

	handler := api.NewHandler(rec, notifier, feeds,
		api.WithLogger(logger),
		api.WithAdminHint(gate.Hint()),
		api.WithStreams(store, notifier),
		api.WithNetworkTrigger(bridge),
	)
	server.Handle(api.Prefix+"/", api.NewRouter(handler))

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting http server: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting event bridge: %w", err)
	}

	logger.Info("dnsswitch initialized",
		slog.String("interface", interfaceName(rec.State())),
		slog.String("active", string(rec.Active())),
		slog.Bool("admin", rec.Admin()),
		slog.String("http_addr", server.Addr()),
	)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("shutting down...")
	cancel()
	bridge.Stop()
	handler.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("dnsswitch shutdown complete")
	return nil
}

func setupLogger(level slog.Level, format string) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func registerBackendFactories(registry *backend.Registry, logger *slog.Logger) {
	// resolv.conf, locally or on a remote host over SSH
	registry.RegisterFactory(resolvconf.TypeName, resolvconf.Factory(logger))

	// systemd-resolved per-link DNS over D-Bus
	registry.RegisterFactory(resolved.TypeName, resolved.Factory(logger))

	// Windows netsh
	registry.RegisterFactory(netsh.TypeName, netsh.Factory(logger))

	// In-memory, for dry-run mode
	registry.RegisterFactory(dryrun.TypeName, dryrun.Factory(logger))
}

// fileBackend is implemented by backends that manage a resolver file.
type fileBackend interface {
	File() (sshutil.FileSystem, string)
}

// fileSource polls the backend's own file when it manages one, otherwise
// the configured local path. An empty watch path disables polling.
func fileSource(be backend.Backend, g *config.GlobalConfig, logger *slog.Logger) watcher.Source {
	if g.WatchPath == "" {
		return nil
	}
	if fb, ok := be.(fileBackend); ok {
		fsys, path := fb.File()
		return watcher.NewFileSource(fsys, path, g.WatchPollInterval, logger)
	}
	return watcher.NewFileSource(sshutil.OSFileSystem{}, g.WatchPath, g.WatchPollInterval, logger)
}

func interfaceName(st *backend.State) string {
	if st == nil {
		return ""
	}
	return st.InterfaceName
}
