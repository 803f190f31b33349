// Package dryrun implements an in-memory backend. Writes are accepted and
// logged but never touch the host, which makes it suitable for dry-run mode
// and for exercising the controller against slow or partial resolvers.
package dryrun

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// TypeName is the registry name of this backend.
const TypeName = "dryrun"

// Settings keys.
const (
	KeyInterface        = "interface"
	KeyServers          = "servers" // comma-separated initial servers; empty means automatic
	KeyPropagationDelay = "propagation_delay"
	KeyRejectSecondary  = "reject_secondary"
	KeyFailWrites       = "fail_writes"
)

// DefaultInterfaceName labels the simulated interface.
const DefaultInterfaceName = "Ethernet"

// Config holds dry-run backend configuration.
type Config struct {
	InterfaceName string
	Initial       backend.State

	// PropagationDelay is how long a write takes to become visible to Query.
	PropagationDelay time.Duration

	// RejectSecondary drops the secondary address on Set, as some systems do.
	RejectSecondary bool

	// FailWrites makes Set and Reset return a permission error.
	FailWrites bool
}

// ConfigFromMap builds a Config from backend settings.
func ConfigFromMap(settings map[string]string) (*Config, error) {
	c := &Config{InterfaceName: settings[KeyInterface]}
	if c.InterfaceName == "" {
		c.InterfaceName = DefaultInterfaceName
	}

	var servers []string
	for _, s := range strings.Split(settings[KeyServers], ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	c.Initial = backend.State{
		InterfaceName: c.InterfaceName,
		Servers:       servers,
		Automatic:     len(servers) == 0,
	}.Normalize()

	if v := settings[KeyPropagationDelay]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, backend.ErrConfigInvalid(KeyPropagationDelay, v, "must be a non-negative duration")
		}
		c.PropagationDelay = d
	}

	for key, dst := range map[string]*bool{
		KeyRejectSecondary: &c.RejectSecondary,
		KeyFailWrites:      &c.FailWrites,
	} {
		v := settings[key]
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, backend.ErrConfigInvalid(key, v, "must be a boolean")
		}
		*dst = b
	}

	return c, nil
}

// Backend keeps resolver state in memory.
type Backend struct {
	name   string
	config *Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	visible   backend.State
	pending   *backend.State
	visibleAt time.Time
	writes    int
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

// WithClock replaces the time source used for propagation.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a dry-run backend.
func New(name string, config *Config, opts ...Option) *Backend {
	if config == nil {
		config = &Config{InterfaceName: DefaultInterfaceName}
		config.Initial = backend.State{InterfaceName: DefaultInterfaceName, Automatic: true}.Normalize()
	}
	b := &Backend{
		name:    name,
		config:  config,
		logger:  slog.Default(),
		now:     time.Now,
		visible: config.Initial.Normalize(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Factory returns a backend.Factory for dry-run backends.
func Factory(logger *slog.Logger) backend.Factory {
	return func(name string, settings map[string]string) (backend.Backend, error) {
		cfg, err := ConfigFromMap(settings)
		if err != nil {
			return nil, err
		}
		return New(name, cfg, WithLogger(logger)), nil
	}
}

// Name returns the backend instance name.
func (b *Backend) Name() string { return b.name }

// Type returns "dryrun".
func (b *Backend) Type() string { return TypeName }

// Ping always succeeds.
func (b *Backend) Ping(context.Context) error { return nil }

// Query returns the visible state. A write becomes visible once its
// propagation delay has elapsed.
func (b *Backend) Query(ctx context.Context) (backend.State, error) {
	if err := ctx.Err(); err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promote()
	return clone(b.visible), nil
}

// Set records explicit servers.
func (b *Backend) Set(ctx context.Context, primary, secondary string) error {
	if err := b.checkWrite(ctx, "set"); err != nil {
		return err
	}
	servers := []string{primary}
	if secondary != "" && !b.config.RejectSecondary {
		servers = append(servers, secondary)
	}
	b.write(backend.State{InterfaceName: b.config.InterfaceName, Servers: servers})
	b.logger.Info("dry run: would set resolvers",
		slog.String("interface", b.config.InterfaceName),
		slog.Any("servers", servers),
	)
	return nil
}

// Reset records automatic resolution.
func (b *Backend) Reset(ctx context.Context) error {
	if err := b.checkWrite(ctx, "reset"); err != nil {
		return err
	}
	b.write(backend.State{InterfaceName: b.config.InterfaceName, Automatic: true})
	b.logger.Info("dry run: would restore automatic resolvers",
		slog.String("interface", b.config.InterfaceName),
	)
	return nil
}

// Writes returns the number of accepted writes.
func (b *Backend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *Backend) checkWrite(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return backend.WrapError(b.name, op, err)
	}
	if b.config.FailWrites {
		return backend.WrapError(b.name, op, fmt.Errorf("%w: writes disabled", backend.ErrPermission))
	}
	return nil
}

func (b *Backend) write(s backend.State) {
	s = s.Normalize()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if b.config.PropagationDelay <= 0 {
		b.visible = s
		b.pending = nil
		return
	}
	b.pending = &s
	b.visibleAt = b.now().Add(b.config.PropagationDelay)
}

// promote must be called with mu held.
func (b *Backend) promote() {
	if b.pending != nil && !b.now().Before(b.visibleAt) {
		b.visible = *b.pending
		b.pending = nil
	}
}

func clone(s backend.State) backend.State {
	s.Servers = append([]string{}, s.Servers...)
	return s
}
