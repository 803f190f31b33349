package sshutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/crypto/ssh"
)

// CommandRunner executes a program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", e.Command, e.ExitCode, out)
}

// ExecRunner runs programs on the local host.
type ExecRunner struct {
	Logger *slog.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("executing command", slog.String("command", name), slog.Any("args", args))

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), &ExitError{
				Command:  name,
				ExitCode: exitErr.ExitCode(),
				Output:   string(out),
			}
		}
		return string(out), fmt.Errorf("running %s: %w", name, err)
	}
	return string(out), nil
}

// SSHRunner runs programs on a remote host through a shell.
type SSHRunner struct {
	client *Client
	logger *slog.Logger
}

// NewSSHRunner creates a CommandRunner over client.
func NewSSHRunner(client *Client, logger *slog.Logger) *SSHRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSHRunner{client: client, logger: logger}
}

func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	conn, err := r.client.Connection(ctx)
	if err != nil {
		return "", err
	}

	session, err := conn.NewSession()
	if err != nil {
		r.client.Invalidate()
		return "", fmt.Errorf("creating SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	command := ShellJoin(append([]string{name}, args...))
	r.logger.Debug("executing remote command",
		slog.String("host", r.client.Host()),
		slog.String("command", command),
	)

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return out.String(), ctx.Err()
	case err := <-done:
		if err == nil {
			return out.String(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), &ExitError{
				Command:  name,
				ExitCode: exitErr.ExitStatus(),
				Output:   out.String(),
			}
		}
		return out.String(), fmt.Errorf("running %s on %s: %w", name, r.client.Host(), err)
	}
}

// ShellJoin quotes words for a POSIX shell.
func ShellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = shellQuote(w)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:,@+%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
