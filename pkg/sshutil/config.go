// Package sshutil lets backends read and rewrite resolver configuration on a
// remote host over SSH and SFTP, or on the local host through the same
// FileSystem and CommandRunner interfaces.
package sshutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Default SSH client configuration values.
const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHTimeout is the default connection timeout.
	DefaultSSHTimeout = 30 * time.Second
)

// Settings keys understood by ConfigFromMap.
const (
	KeyHost          = "ssh_host"
	KeyPort          = "ssh_port"
	KeyUser          = "ssh_user"
	KeyKeyFile       = "ssh_key_file"
	KeyKeyData       = "ssh_key"
	KeyKeyPassphrase = "ssh_key_passphrase"
	KeyPassword      = "ssh_password"
	KeyKnownHosts    = "ssh_known_hosts"
	KeyTimeout       = "ssh_timeout"
)

// Config holds SSH connection configuration.
type Config struct {
	Host string
	Port int
	User string

	// Either KeyFile, KeyData, or Password must be provided.
	KeyFile       string
	KeyData       string
	KeyPassphrase string
	Password      string

	// KnownHosts is the path to a known_hosts file. Empty disables host key
	// verification.
	KnownHosts string

	Timeout time.Duration
}

// Enabled reports whether settings ask for a remote host.
func Enabled(settings map[string]string) bool {
	return strings.TrimSpace(settings[KeyHost]) != ""
}

// ConfigFromMap builds a Config from backend settings.
func ConfigFromMap(settings map[string]string) (*Config, error) {
	c := &Config{
		Host:          strings.TrimSpace(settings[KeyHost]),
		User:          settings[KeyUser],
		KeyFile:       settings[KeyKeyFile],
		KeyData:       settings[KeyKeyData],
		KeyPassphrase: settings[KeyKeyPassphrase],
		Password:      settings[KeyPassword],
		KnownHosts:    settings[KeyKnownHosts],
		Port:          DefaultSSHPort,
	}

	if v := settings[KeyPort]; v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", KeyPort, v, err)
		}
		c.Port = port
	}

	if v := settings[KeyTimeout]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", KeyTimeout, v, err)
		}
		c.Timeout = d
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Host == "" {
		errs = append(errs, "host is required")
	}
	if c.User == "" {
		errs = append(errs, "user is required")
	}
	if c.KeyFile == "" && c.KeyData == "" && c.Password == "" {
		errs = append(errs, "at least one authentication method required (key file, key, or password)")
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 0 and 65535")
	}
	if c.Timeout < 0 {
		errs = append(errs, "timeout must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("ssh config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Address returns the SSH server address in host:port format.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// GetTimeout returns the configured timeout or the default.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultSSHTimeout
}
