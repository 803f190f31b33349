package resolvconf

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/sshutil"
)

// managedMarker heads every file this backend writes. Its presence is what
// distinguishes explicit resolvers from automatically managed ones.
const managedMarker = "# Managed by dnsswitch. Restore with the system default profile."

// absentMarker is the backup content written when the resolver file did not
// exist before the first explicit write. Reset removes the file again.
const absentMarker = "# dnsswitch: no resolver file existed\n"

// Backend manages a resolv.conf file.
type Backend struct {
	name   string
	config *Config
	fs     sshutil.FileSystem
	runner sshutil.CommandRunner
	logger *slog.Logger

	// closers are released by Close, in order.
	closers []io.Closer

	// mu serializes read-modify-write cycles on the file.
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

// WithFileSystem replaces the file access layer.
func WithFileSystem(fs sshutil.FileSystem) Option {
	return func(b *Backend) {
		b.fs = fs
	}
}

// WithCommandRunner replaces the command runner.
func WithCommandRunner(r sshutil.CommandRunner) Option {
	return func(b *Backend) {
		b.runner = r
	}
}

// WithCloser registers a resource released by Close, such as a remote session.
func WithCloser(c io.Closer) Option {
	return func(b *Backend) {
		b.closers = append(b.closers, c)
	}
}

// New creates a resolv.conf backend operating on the local host unless a
// file system and runner are supplied.
func New(name string, config *Config, opts ...Option) (*Backend, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Backend{
		name:   name,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.fs == nil {
		b.fs = sshutil.OSFileSystem{}
	}
	if b.runner == nil {
		b.runner = sshutil.ExecRunner{Logger: b.logger}
	}
	return b, nil
}

// Name returns the backend instance name.
func (b *Backend) Name() string { return b.name }

// Type returns "resolvconf".
func (b *Backend) Type() string { return TypeName }

// File returns the managed file and the file system it lives on.
func (b *Backend) File() (sshutil.FileSystem, string) {
	return b.fs, b.config.Path
}

// Close releases any remote session.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks that the managed file is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.fs.Stat(ctx, b.config.Path); err != nil {
		return backend.WrapError(b.name, "ping", classify(err))
	}
	return nil
}

// Query reads the file. Files without the managed marker are reported as
// automatic, whatever servers they list.
func (b *Backend) Query(ctx context.Context) (backend.State, error) {
	data, err := b.fs.ReadFile(ctx, b.config.Path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return backend.State{InterfaceName: b.config.InterfaceName, Automatic: true}, nil
		}
		return backend.State{}, backend.WrapError(b.name, "query", classify(err))
	}

	cfg, err := dns.ClientConfigFromReader(bytes.NewReader(data))
	if err != nil {
		return backend.State{}, backend.WrapError(b.name, "query", fmt.Errorf("parsing %s: %w", b.config.Path, err))
	}

	if !isManaged(data) {
		return backend.State{InterfaceName: b.config.InterfaceName, Automatic: true}, nil
	}

	return backend.State{
		InterfaceName: b.config.InterfaceName,
		Servers:       cfg.Servers,
	}.Normalize(), nil
}

// Set writes explicit nameservers, keeping search and options lines. The
// original file is backed up on the first explicit write.
func (b *Backend) Set(ctx context.Context, primary, secondary string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.fs.ReadFile(ctx, b.config.Path)
	absent := errors.Is(err, iofs.ErrNotExist)
	if err != nil && !absent {
		return backend.WrapError(b.name, "set", classify(err))
	}

	if !isManaged(current) {
		backup := current
		if absent {
			backup = []byte(absentMarker)
		}
		if err := b.fs.WriteFile(ctx, b.config.BackupPath, backup, 0o644); err != nil {
			return backend.WrapError(b.name, "set", fmt.Errorf("backing up %s: %w", b.config.Path, classify(err)))
		}
		b.logger.Debug("backed up resolver file",
			slog.String("path", b.config.Path),
			slog.String("backup", b.config.BackupPath),
		)
	}

	servers := []string{primary}
	if secondary != "" {
		servers = append(servers, secondary)
	}
	if err := b.fs.WriteFile(ctx, b.config.Path, render(current, servers), 0o644); err != nil {
		return backend.WrapError(b.name, "set", classify(err))
	}

	b.logger.Info("resolver file updated",
		slog.String("path", b.config.Path),
		slog.Any("servers", servers),
	)
	return b.run(ctx, "set", b.config.ReloadCommand)
}

// Reset restores the backed-up file, or removes it when it did not exist
// before the first explicit write. Without a backup the managed nameserver
// lines are dropped and the marker removed.
func (b *Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	backup, err := b.fs.ReadFile(ctx, b.config.BackupPath)
	switch {
	case err == nil && string(backup) == absentMarker:
		if err := b.fs.Remove(ctx, b.config.Path); err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return backend.WrapError(b.name, "reset", classify(err))
		}
		b.removeBackup(ctx)
	case err == nil:
		if err := b.fs.WriteFile(ctx, b.config.Path, backup, 0o644); err != nil {
			return backend.WrapError(b.name, "reset", classify(err))
		}
		b.removeBackup(ctx)
	case errors.Is(err, iofs.ErrNotExist):
		current, err := b.fs.ReadFile(ctx, b.config.Path)
		if err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return backend.WrapError(b.name, "reset", classify(err))
		}
		if isManaged(current) {
			if err := b.fs.WriteFile(ctx, b.config.Path, strip(current), 0o644); err != nil {
				return backend.WrapError(b.name, "reset", classify(err))
			}
		}
	default:
		return backend.WrapError(b.name, "reset", classify(err))
	}

	b.logger.Info("resolver file restored", slog.String("path", b.config.Path))
	return b.run(ctx, "reset", b.config.ResetCommand)
}

func (b *Backend) removeBackup(ctx context.Context) {
	if err := b.fs.Remove(ctx, b.config.BackupPath); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		b.logger.Warn("failed to remove resolver backup",
			slog.String("backup", b.config.BackupPath),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Backend) run(ctx context.Context, op, command string) error {
	if command == "" {
		return nil
	}
	if _, err := b.runner.Run(ctx, "sh", "-c", command); err != nil {
		return backend.WrapError(b.name, op, fmt.Errorf("running %q: %w", command, err))
	}
	return nil
}

func isManaged(data []byte) bool {
	return bytes.HasPrefix(data, []byte(managedMarker))
}

// render rebuilds the file around servers, keeping every non-nameserver line
// of the current content.
func render(current []byte, servers []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(managedMarker)
	buf.WriteByte('\n')
	for _, s := range servers {
		fmt.Fprintf(&buf, "nameserver %s\n", s)
	}
	for _, line := range keptLines(current) {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// strip removes the marker and the nameserver lines this backend wrote.
func strip(current []byte) []byte {
	var buf bytes.Buffer
	for _, line := range keptLines(current) {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func keptLines(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == managedMarker {
			continue
		}
		if f := strings.Fields(trimmed); len(f) > 0 && f[0] == "nameserver" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func classify(err error) error {
	if errors.Is(err, iofs.ErrPermission) || errors.Is(err, sshutil.ErrAuthenticationFailed) {
		return fmt.Errorf("%w: %w", backend.ErrPermission, err)
	}
	var exitErr *sshutil.ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if errors.Is(err, sshutil.ErrConnectionTimeout) || errors.Is(err, sshutil.ErrNotConnected) ||
		errors.Is(err, sshutil.ErrHostKeyUnknown) || errors.Is(err, sshutil.ErrHostKeyChanged) {
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	return err
}
