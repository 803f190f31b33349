// Package resolved implements a backend for Linux hosts running
// systemd-resolved. Per-link resolvers are changed over D-Bus.
package resolved

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/sshutil"
)

// TypeName is the registry name of this backend.
const TypeName = "resolved"

// Settings keys.
const (
	KeyInterface = "interface"
	KeyStateDir  = "state_dir"
	KeyFlush     = "flush_caches"
)

// DefaultStateDir holds the records of links this backend configured.
const DefaultStateDir = "/run/dnsswitch"

// Config holds resolved backend configuration.
type Config struct {
	// Interface pins the managed link. Empty follows the default route.
	Interface string

	// StateDir holds one record per link with explicit resolvers. resolved
	// reports DHCP-supplied and explicit servers alike, so the record is
	// what marks a link as explicitly configured.
	StateDir string

	// FlushCaches flushes the resolver cache after every change.
	FlushCaches bool
}

// ConfigFromMap builds a Config from backend settings.
func ConfigFromMap(settings map[string]string) (*Config, error) {
	c := &Config{
		Interface:   strings.TrimSpace(settings[KeyInterface]),
		StateDir:    settings[KeyStateDir],
		FlushCaches: true,
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if !filepath.IsAbs(c.StateDir) {
		return nil, backend.ErrConfigInvalid(KeyStateDir, c.StateDir, "must be absolute")
	}
	if v := settings[KeyFlush]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, backend.ErrConfigInvalid(KeyFlush, v, "must be a boolean")
		}
		c.FlushCaches = b
	}
	return c, nil
}

// links looks up network interfaces.
type links interface {
	ByName(name string) (int, error)
	Default() (name string, index int, err error)
}

// Backend manages per-link resolvers through systemd-resolved.
type Backend struct {
	name   string
	config *Config
	bus    bus
	links  links
	fs     sshutil.FileSystem
	logger *slog.Logger

	mu sync.Mutex
}

// Option is a functional option for configuring the Backend.
type Option func(*Backend)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFileSystem replaces the file access layer used for link records.
func WithFileSystem(fs sshutil.FileSystem) Option {
	return func(b *Backend) {
		b.fs = fs
	}
}

func withBus(bus bus) Option {
	return func(b *Backend) {
		b.bus = bus
	}
}

func withLinks(l links) Option {
	return func(b *Backend) {
		b.links = l
	}
}

// New creates a resolved backend.
func New(name string, config *Config, opts ...Option) (*Backend, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	b := &Backend{
		name:   name,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.bus == nil {
		b.bus = &systemBus{}
	}
	if b.links == nil {
		b.links = netlinkLinks{}
	}
	if b.fs == nil {
		b.fs = sshutil.OSFileSystem{}
	}
	return b, nil
}

// Factory returns a backend.Factory for resolved backends.
func Factory(logger *slog.Logger) backend.Factory {
	return func(name string, settings map[string]string) (backend.Backend, error) {
		cfg, err := ConfigFromMap(settings)
		if err != nil {
			return nil, err
		}
		return New(name, cfg, WithLogger(logger))
	}
}

// Name returns the backend instance name.
func (b *Backend) Name() string { return b.name }

// Type returns "resolved".
func (b *Backend) Type() string { return TypeName }

// Close releases the D-Bus connection.
func (b *Backend) Close() error { return b.bus.Close() }

// Ping checks that resolved answers on the bus.
func (b *Backend) Ping(ctx context.Context) error {
	return backend.WrapError(b.name, "ping", b.bus.Ping(ctx))
}

// Query reads the link's resolvers. A link without a record, or without
// servers, is automatic.
func (b *Backend) Query(ctx context.Context) (backend.State, error) {
	iface, index, err := b.link()
	if err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", err)
	}
	path, err := b.bus.Link(ctx, index)
	if err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", err)
	}
	entries, err := b.bus.LinkDNS(ctx, path)
	if err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", err)
	}

	st := backend.State{InterfaceName: iface, Servers: fromLinkDNS(entries)}
	explicit, err := b.hasRecord(ctx, iface)
	if err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", err)
	}
	if !explicit || len(st.Servers) == 0 {
		st.Automatic = true
	}
	return st.Normalize(), nil
}

// Set replaces the link's resolvers.
func (b *Backend) Set(ctx context.Context, primary, secondary string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	iface, index, err := b.link()
	if err != nil {
		return backend.WrapError(b.name, "set", err)
	}

	servers := []string{primary}
	if secondary != "" {
		servers = append(servers, secondary)
	}
	entries, err := toLinkDNS(servers)
	if err != nil {
		return backend.WrapError(b.name, "set", err)
	}

	path, err := b.bus.Link(ctx, index)
	if err != nil {
		return backend.WrapError(b.name, "set", err)
	}
	if err := b.bus.SetLinkDNS(ctx, path, entries); err != nil {
		return backend.WrapError(b.name, "set", err)
	}
	if err := b.fs.MkdirAll(ctx, b.config.StateDir); err != nil {
		return backend.WrapError(b.name, "set", fmt.Errorf("creating %s: %w", b.config.StateDir, err))
	}
	if err := b.fs.WriteFile(ctx, b.recordPath(iface), []byte(strings.Join(servers, "\n")+"\n"), 0o644); err != nil {
		return backend.WrapError(b.name, "set", fmt.Errorf("recording link state: %w", err))
	}
	b.flush(ctx)

	b.logger.Info("link resolvers set",
		slog.String("interface", iface),
		slog.Any("servers", servers),
	)
	return nil
}

// Reset reverts the link to the servers its network manager supplies.
func (b *Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	iface, index, err := b.link()
	if err != nil {
		return backend.WrapError(b.name, "reset", err)
	}
	path, err := b.bus.Link(ctx, index)
	if err != nil {
		return backend.WrapError(b.name, "reset", err)
	}
	if err := b.bus.RevertLink(ctx, path); err != nil {
		return backend.WrapError(b.name, "reset", err)
	}
	if err := b.fs.Remove(ctx, b.recordPath(iface)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		b.logger.Warn("failed to remove link record",
			slog.String("interface", iface),
			slog.String("error", err.Error()),
		)
	}
	b.flush(ctx)

	b.logger.Info("link resolvers reverted", slog.String("interface", iface))
	return nil
}

func (b *Backend) link() (string, int, error) {
	if b.config.Interface != "" {
		index, err := b.links.ByName(b.config.Interface)
		return b.config.Interface, index, err
	}
	return b.links.Default()
}

func (b *Backend) recordPath(iface string) string {
	return filepath.Join(b.config.StateDir, "resolved-"+iface)
}

func (b *Backend) hasRecord(ctx context.Context, iface string) (bool, error) {
	_, err := b.fs.Stat(ctx, b.recordPath(iface))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (b *Backend) flush(ctx context.Context) {
	if !b.config.FlushCaches {
		return
	}
	if err := b.bus.FlushCaches(ctx); err != nil {
		b.logger.Warn("failed to flush resolver cache", slog.String("error", err.Error()))
	}
}
