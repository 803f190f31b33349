// Package netsh implements a backend for Windows hosts that drives the
// netsh and ipconfig tools.
package netsh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/sshutil"
)

// TypeName is the registry name of this backend.
const TypeName = "netsh"

// KeyInterface pins the managed interface instead of detecting it.
const KeyInterface = "interface"

// Backend manages the IPv4 resolvers of the active Windows interface.
type Backend struct {
	name   string
	iface  string
	runner sshutil.CommandRunner
	logger *slog.Logger
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

// WithCommandRunner replaces the command runner.
func WithCommandRunner(r sshutil.CommandRunner) Option {
	return func(b *Backend) {
		b.runner = r
	}
}

// WithInterface pins the managed interface.
func WithInterface(name string) Option {
	return func(b *Backend) {
		b.iface = name
	}
}

// New creates a netsh backend.
func New(name string, opts ...Option) *Backend {
	b := &Backend{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.runner == nil {
		b.runner = sshutil.ExecRunner{Logger: b.logger}
	}
	return b
}

// Factory returns a backend.Factory for netsh backends.
func Factory(logger *slog.Logger) backend.Factory {
	return func(name string, settings map[string]string) (backend.Backend, error) {
		return New(name, WithLogger(logger), WithInterface(settings[KeyInterface])), nil
	}
}

// Name returns the backend instance name.
func (b *Backend) Name() string { return b.name }

// Type returns "netsh".
func (b *Backend) Type() string { return TypeName }

// Ping checks that netsh can list interfaces.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.netsh(ctx, "interface", "show", "interface"); err != nil {
		return backend.WrapError(b.name, "ping", err)
	}
	return nil
}

// Query reports the resolvers of the active interface. Interfaces whose
// servers come from DHCP, or that have none, are automatic.
func (b *Backend) Query(ctx context.Context) (backend.State, error) {
	iface, err := b.activeInterface(ctx)
	if err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", err)
	}

	out, err := b.netsh(ctx, "interface", "ipv4", "show", "dnsservers", iface)
	if err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", err)
	}

	parsed := parseDNSServers(out)
	st := backend.State{InterfaceName: iface}
	if parsed.dhcp || len(parsed.servers) == 0 {
		st.Automatic = true
	} else {
		st.Servers = parsed.servers
	}
	return st.Normalize(), nil
}

// Set makes primary the static resolver and adds secondary at index 2.
// A failure to add the secondary is logged, not returned.
func (b *Backend) Set(ctx context.Context, primary, secondary string) error {
	iface, err := b.activeInterface(ctx)
	if err != nil {
		return backend.WrapError(b.name, "set", err)
	}

	if _, err := b.netsh(ctx, "interface", "ipv4", "set", "dnsservers",
		iface, "static", primary, "primary", "validate=no"); err != nil {
		return backend.WrapError(b.name, "set", err)
	}

	if secondary != "" {
		if _, err := b.netsh(ctx, "interface", "ipv4", "add", "dnsservers",
			iface, secondary, "index=2", "validate=no"); err != nil {
			b.logger.Warn("failed to add secondary resolver",
				slog.String("interface", iface),
				slog.String("secondary", secondary),
				slog.String("error", err.Error()),
			)
		}
	}

	b.logger.Info("resolvers set",
		slog.String("interface", iface),
		slog.String("primary", primary),
		slog.String("secondary", secondary),
	)
	return nil
}

// Reset switches the interface back to DHCP, drops leftover static entries
// and flushes the resolver cache. Only the DHCP switch must succeed.
func (b *Backend) Reset(ctx context.Context) error {
	iface, err := b.activeInterface(ctx)
	if err != nil {
		return backend.WrapError(b.name, "reset", err)
	}

	if _, err := b.netsh(ctx, "interface", "ipv4", "set", "dnsservers", iface, "source=dhcp"); err != nil {
		return backend.WrapError(b.name, "reset", err)
	}

	if _, err := b.netsh(ctx, "interface", "ipv4", "delete", "dnsservers", iface, "all"); err != nil {
		b.logger.Debug("no static resolvers to delete",
			slog.String("interface", iface),
			slog.String("error", err.Error()),
		)
	}
	if _, err := b.run(ctx, "ipconfig", "/flushdns"); err != nil {
		b.logger.Warn("failed to flush resolver cache", slog.String("error", err.Error()))
	}

	b.logger.Info("resolvers restored to DHCP", slog.String("interface", iface))
	return nil
}

func (b *Backend) activeInterface(ctx context.Context) (string, error) {
	if b.iface != "" {
		return b.iface, nil
	}
	out, err := b.netsh(ctx, "interface", "show", "interface")
	if err != nil {
		return "", err
	}
	iface, ok := pickInterface(parseInterfaces(out))
	if !ok {
		return "", backend.ErrNoInterface
	}
	return iface, nil
}

func (b *Backend) netsh(ctx context.Context, args ...string) (string, error) {
	return b.run(ctx, "netsh", args...)
}

// run executes a command and classifies its failure.
func (b *Backend) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := b.runner.Run(ctx, name, args...)
	if err == nil {
		return out, nil
	}

	var exitErr *sshutil.ExitError
	switch {
	case errors.As(err, &exitErr) && needsElevation(exitErr.Output):
		return out, fmt.Errorf("%w: %w", backend.ErrPermission, err)
	case errors.Is(err, exec.ErrNotFound):
		return out, fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	default:
		return out, err
	}
}
