// Package privilege reports whether the process may change network settings.
//
// The answer is sampled once and cached for the session. It never blocks an
// operation; callers attempt mutations regardless and use the flag only to
// pick messages and show a warning.
package privilege

import (
	"log/slog"
	"sync"
)

// Gate caches the administrator check.
type Gate struct {
	check  func() bool
	hint   string
	logger *slog.Logger

	once  sync.Once
	admin bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithChecker replaces the platform check. Used by tests and dry-run mode.
func WithChecker(fn func() bool) Option {
	return func(g *Gate) {
		g.check = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a Gate using the platform check.
func New(opts ...Option) *Gate {
	g := &Gate{
		check:  isElevated,
		hint:   hint(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns the cached administrator flag, sampling it on first call.
func (g *Gate) Check() bool {
	g.once.Do(func() {
		g.admin = g.check()
		if !g.admin {
			g.logger.Warn("running without administrator privileges, DNS changes will likely fail",
				slog.String("hint", g.hint),
			)
		}
	})
	return g.admin
}

// Hint returns platform-specific advice for gaining the required rights.
func (g *Gate) Hint() string {
	return g.hint
}
