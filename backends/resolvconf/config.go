// Package resolvconf implements a backend that manages a resolv.conf-style
// file, locally or on a remote host over SSH.
package resolvconf

import (
	"fmt"
	"strings"
)

// TypeName is the registry name of this backend.
const TypeName = "resolvconf"

// Defaults.
const (
	DefaultPath          = "/etc/resolv.conf"
	DefaultInterfaceName = "system"
	backupSuffix         = ".dnsswitch.bak"
)

// Settings keys.
const (
	KeyPath          = "path"
	KeyBackupPath    = "backup_path"
	KeyInterface     = "interface"
	KeyReloadCommand = "reload_command"
	KeyResetCommand  = "reset_command"
)

// Config holds resolv.conf backend configuration.
type Config struct {
	Path       string // managed file
	BackupPath string // copy of the file taken before the first explicit write

	// InterfaceName labels the state; resolv.conf is host-wide.
	InterfaceName string

	// ReloadCommand runs after every write (e.g. "resolvconf -u").
	ReloadCommand string

	// ResetCommand runs after restoring automatic resolution
	// (e.g. "dhclient -r && dhclient"). Defaults to ReloadCommand.
	ResetCommand string
}

// ConfigFromMap builds a Config from backend settings.
func ConfigFromMap(settings map[string]string) (*Config, error) {
	c := &Config{
		Path:          settings[KeyPath],
		BackupPath:    settings[KeyBackupPath],
		InterfaceName: settings[KeyInterface],
		ReloadCommand: strings.TrimSpace(settings[KeyReloadCommand]),
		ResetCommand:  strings.TrimSpace(settings[KeyResetCommand]),
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.BackupPath == "" {
		c.BackupPath = c.Path + backupSuffix
	}
	if c.InterfaceName == "" {
		c.InterfaceName = DefaultInterfaceName
	}
	if c.ResetCommand == "" {
		c.ResetCommand = c.ReloadCommand
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, "path must be absolute")
	}
	if !strings.HasPrefix(c.BackupPath, "/") {
		errs = append(errs, "backup_path must be absolute")
	}
	if c.BackupPath == c.Path {
		errs = append(errs, "backup_path must differ from path")
	}
	if len(errs) > 0 {
		return fmt.Errorf("resolvconf config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
