package resolvconf

import (
	"fmt"
	"log/slog"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/sshutil"
)

// Factory returns a backend.Factory for resolv.conf backends. When the
// settings carry ssh_host the file is managed over SFTP and commands run
// through SSH.
func Factory(logger *slog.Logger) backend.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(name string, settings map[string]string) (backend.Backend, error) {
		cfg, err := ConfigFromMap(settings)
		if err != nil {
			return nil, err
		}

		opts := []Option{WithLogger(logger.With(slog.String("backend", name)))}

		if sshutil.Enabled(settings) {
			sshCfg, err := sshutil.ConfigFromMap(settings)
			if err != nil {
				return nil, fmt.Errorf("ssh: %w", err)
			}
			client, err := sshutil.NewClient(sshCfg, sshutil.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			sftpFS := sshutil.NewSFTPFileSystem(client, logger)
			opts = append(opts,
				WithFileSystem(sftpFS),
				WithCommandRunner(sshutil.NewSSHRunner(client, logger)),
				WithCloser(sftpFS),
				WithCloser(client),
			)
			if settings[KeyInterface] == "" {
				cfg.InterfaceName = sshCfg.Host
			}
		}

		return New(name, cfg, opts...)
	}
}
