package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/sshutil"
)

// FileSource polls a resolver file and reports when its modification time
// or size changes. Tools like dhclient and NetworkManager rewrite the file
// on every lease.
type FileSource struct {
	fs       sshutil.FileSystem
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// NewFileSource creates a poller for path on fsys.
func NewFileSource(fsys sshutil.FileSystem, path string, interval time.Duration, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{fs: fsys, path: path, interval: interval, logger: logger}
}

// Name implements Source.
func (s *FileSource) Name() string { return SourceResolvConf }

type fingerprint struct {
	exists  bool
	modTime int64
	size    int64
}

// Run implements Source.
func (s *FileSource) Run(ctx context.Context, notify func()) error {
	last, err := s.fingerprint(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fp, err := s.fingerprint(ctx)
			if err != nil {
				return err
			}
			if fp != last {
				s.logger.Debug("resolver file changed",
					slog.String("path", s.path),
					slog.Int64("size", fp.size),
					slog.Bool("exists", fp.exists),
				)
				last = fp
				notify()
			}
		}
	}
}

func (s *FileSource) fingerprint(ctx context.Context) (fingerprint, error) {
	info, err := s.fs.Stat(ctx, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fingerprint{}, nil
	}
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{
		exists:  true,
		modTime: info.ModTime().UnixNano(),
		size:    info.Size(),
	}, nil
}
