package sshutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"
)

// FileSystem is the file access a backend needs to manage a resolver file.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile replaces path atomically where the target supports it.
	WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error
	Stat(ctx context.Context, path string) (os.FileInfo, error)
	Remove(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string) error
}

// OSFileSystem implements FileSystem on the local host.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSFileSystem) WriteFile(_ context.Context, path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		// Some resolver files live in directories we may not create in
		// (e.g. bind-mounted /etc/resolv.conf). Fall back to an in-place write.
		return os.WriteFile(path, data, perm)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return os.WriteFile(path, data, perm)
	}
	return nil
}

func (OSFileSystem) Stat(_ context.Context, path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (OSFileSystem) Remove(_ context.Context, path string) error {
	return os.Remove(path)
}

func (OSFileSystem) MkdirAll(_ context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

// SFTPFileSystem implements FileSystem over SFTP.
type SFTPFileSystem struct {
	client *Client
	logger *slog.Logger

	mu   sync.Mutex
	sftp *sftp.Client
}

// NewSFTPFileSystem creates an SFTP-backed FileSystem. The session is opened
// on first use.
func NewSFTPFileSystem(client *Client, logger *slog.Logger) *SFTPFileSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &SFTPFileSystem{client: client, logger: logger}
}

func (fs *SFTPFileSystem) session(ctx context.Context) (*sftp.Client, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.sftp != nil {
		return fs.sftp, nil
	}

	conn, err := fs.client.Connection(ctx)
	if err != nil {
		return nil, err
	}

	sc, err := sftp.NewClient(conn)
	if err != nil {
		fs.client.Invalidate()
		return nil, fmt.Errorf("creating SFTP client: %w", err)
	}
	fs.sftp = sc
	fs.logger.Debug("SFTP session established", slog.String("host", fs.client.Host()))
	return sc, nil
}

// reset drops the session after a transport error.
func (fs *SFTPFileSystem) reset() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.sftp != nil {
		_ = fs.sftp.Close()
		fs.sftp = nil
	}
	fs.client.Invalidate()
}

// Close closes the SFTP session. The SSH connection stays open.
func (fs *SFTPFileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.sftp == nil {
		return nil
	}
	err := fs.sftp.Close()
	fs.sftp = nil
	return err
}

func (fs *SFTPFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	sc, err := fs.session(ctx)
	if err != nil {
		return nil, err
	}

	f, err := sc.Open(path)
	if err != nil {
		return nil, fs.wrap(err, "opening %s", path)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fs.wrap(err, "reading %s", path)
	}
	return data, nil
}

func (fs *SFTPFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	sc, err := fs.session(ctx)
	if err != nil {
		return err
	}

	tmp := path + ".dnsswitch.tmp"
	f, err := sc.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fs.wrap(err, "creating %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fs.wrap(err, "writing %s", tmp)
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return fs.wrap(err, "chmod %s", tmp)
	}
	if err := f.Close(); err != nil {
		return fs.wrap(err, "closing %s", tmp)
	}

	if err := sc.PosixRename(tmp, path); err != nil {
		_ = sc.Remove(tmp)
		return fs.wrap(err, "renaming %s", tmp)
	}
	return nil
}

func (fs *SFTPFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	sc, err := fs.session(ctx)
	if err != nil {
		return nil, err
	}
	info, err := sc.Stat(path)
	if err != nil {
		return nil, fs.wrap(err, "stat %s", path)
	}
	return info, nil
}

func (fs *SFTPFileSystem) Remove(ctx context.Context, path string) error {
	sc, err := fs.session(ctx)
	if err != nil {
		return err
	}
	if err := sc.Remove(path); err != nil {
		return fs.wrap(err, "removing %s", path)
	}
	return nil
}

func (fs *SFTPFileSystem) MkdirAll(ctx context.Context, path string) error {
	sc, err := fs.session(ctx)
	if err != nil {
		return err
	}
	if err := sc.MkdirAll(path); err != nil {
		return fs.wrap(err, "creating %s", path)
	}
	return nil
}

// wrap annotates err. Anything other than a file-level status drops the
// session so the next call reconnects.
func (fs *SFTPFileSystem) wrap(err error, format string, args ...any) error {
	var statusErr *sftp.StatusError
	if !errors.As(err, &statusErr) &&
		!errors.Is(err, iofs.ErrNotExist) &&
		!errors.Is(err, iofs.ErrPermission) {
		fs.reset()
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
