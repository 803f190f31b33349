package sshutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrNotConnected is returned when an operation needs a connection that is gone.
	ErrNotConnected = errors.New("ssh client is not connected")

	// ErrAuthenticationFailed is returned when the server rejects every credential.
	ErrAuthenticationFailed = errors.New("ssh authentication failed")

	// ErrConnectionTimeout is returned when the dial does not finish in time.
	ErrConnectionTimeout = errors.New("ssh connection timed out")

	// ErrHostKeyUnknown is returned when known_hosts has no entry for the host.
	ErrHostKeyUnknown = errors.New("ssh host key not in known_hosts")

	// ErrHostKeyChanged is returned when the host presents a key that differs
	// from its known_hosts entry.
	ErrHostKeyChanged = errors.New("ssh host key changed")
)

// keepaliveRequest is answered by OpenSSH and most other servers, even with
// a failure reply, which still proves the connection is alive.
const keepaliveRequest = "keepalive@openssh.com"

// Client owns one SSH connection to the managed host. It dials on first use
// and redials when the cached connection stops answering.
type Client struct {
	config *Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *ssh.Client
	insecure sync.Once
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the SSH client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient validates config. No connection is made yet.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host returns the configured host.
func (c *Client) Host() string {
	return c.config.Host
}

// Connection returns a live connection. A cached connection is probed with
// a keepalive first and replaced if it does not answer.
func (c *Client) Connection(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if _, _, err := c.conn.SendRequest(keepaliveRequest, true, nil); err == nil {
			return c.conn, nil
		}
		c.logger.Debug("cached ssh connection is dead, redialling", slog.String("host", c.config.Host))
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// Invalidate drops a connection that produced an error so the next call
// redials.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close closes the SSH connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	addr := c.config.Address()
	timeout := c.config.GetTimeout()
	c.logger.Debug("dialling ssh host",
		slog.String("addr", addr),
		slog.String("user", c.config.User),
		slog.Duration("timeout", timeout),
	)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	netConn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrConnectionTimeout, addr)
		}
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	// The handshake has no context of its own.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	})
	if err != nil {
		_ = netConn.Close()
		return nil, classifyHandshake(addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	c.logger.Info("ssh connection established", slog.String("host", c.config.Host))
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// authMethods offers every configured key in one publickey attempt, then the
// password.
func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	var signers []ssh.Signer

	if c.config.KeyFile != "" {
		pem, err := os.ReadFile(c.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key %s: %w", c.config.KeyFile, err)
		}
		s, err := c.signer(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key %s: %w", c.config.KeyFile, err)
		}
		signers = append(signers, s)
	}
	if c.config.KeyData != "" {
		s, err := c.signer([]byte(c.config.KeyData))
		if err != nil {
			return nil, fmt.Errorf("parsing inline ssh key: %w", err)
		}
		signers = append(signers, s)
	}

	var methods []ssh.AuthMethod
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if c.config.Password != "" {
		methods = append(methods, ssh.Password(c.config.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh authentication method configured")
	}
	return methods, nil
}

func (c *Client) signer(pem []byte) (ssh.Signer, error) {
	if c.config.KeyPassphrase == "" {
		return ssh.ParsePrivateKey(pem)
	}
	return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.config.KeyPassphrase))
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHosts == "" {
		c.insecure.Do(func() {
			c.logger.Warn("ssh host key verification disabled, set ssh_known_hosts to enable it",
				slog.String("host", c.config.Host),
			)
		})
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // no known_hosts configured
	}

	cb, err := knownhosts.New(c.config.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", c.config.KnownHosts, err)
	}
	return cb, nil
}

// classifyHandshake maps handshake failures onto the package sentinels.
func classifyHandshake(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("%w: %s", ErrHostKeyUnknown, addr)
		}
		return fmt.Errorf("%w: %s", ErrHostKeyChanged, addr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrConnectionTimeout, addr)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return fmt.Errorf("ssh handshake with %s: %w", addr, err)
}
