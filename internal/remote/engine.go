// Package remote executes allowlisted commands and file transfers against
// the managed server over SSH. Every operation opens and owns its own
// connection; there is no shared connection state between operations.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sambadeck/sambadeck/internal/command"
)

const (
	// DefaultConnectTimeout bounds dialing and the SSH handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultCommandTimeout bounds command execution from dispatch.
	DefaultCommandTimeout = 30 * time.Second
)

// Credentials authenticate one operation against the remote server.
type Credentials struct {
	Username string
	Password string
	Host     string
	Port     int
}

// Result is the outcome of a completed remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Config holds engine settings.
type Config struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// HostKeyFingerprint is the expected SHA256 host key digest. Empty
	// means trust-on-first-use.
	HostKeyFingerprint string
}

// Engine runs catalog commands and SFTP transfers.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine, applying default timeouts where unset.
func NewEngine(cfg Config) *Engine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Engine{cfg: cfg}
}

// connect dials and authenticates a fresh SSH connection. The connect
// timeout covers both the dial and the handshake.
func (e *Engine) connect(ctx context.Context, creds Credentials) (*ssh.Client, error) {
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port))

	clientConfig := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: hostKeyCallback(e.cfg.HostKeyFingerprint),
		Timeout:         e.cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: e.cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			return nil, failure(KindConnectTimeout, "dial "+addr, err)
		}
		return nil, failure(KindTransportError, "dial "+addr, err)
	}

	// The handshake shares the connect deadline with the dial.
	_ = netConn.SetDeadline(time.Now().Add(e.cfg.ConnectTimeout))
	sshConn, channels, requests, err := ssh.NewClientConn(netConn, addr, clientConfig)
	if err != nil {
		netConn.Close()
		switch {
		case strings.Contains(err.Error(), "unable to authenticate"):
			return nil, failure(KindAuthFailure, "handshake "+addr, err)
		case isTimeout(err):
			return nil, failure(KindConnectTimeout, "handshake "+addr, err)
		default:
			return nil, failure(KindTransportError, "handshake "+addr, err)
		}
	}
	_ = netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, channels, requests), nil
}

// Execute runs a catalog command over a fresh connection. For elevated
// specs the invocation is wrapped in a password-fed sudo; the session's
// password is written to stdin before any spec payload, and stdin is closed
// only after both, so the remote command never blocks waiting for input.
func (e *Engine) Execute(ctx context.Context, creds Credentials, spec command.Spec) (Result, error) {
	client, err := e.connect(ctx, creds)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, failure(KindProtocolError, "open session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	stdin, err := session.StdinPipe()
	if err != nil {
		return Result{}, failure(KindProtocolError, "open stdin", err)
	}

	cmdText := spec.Command
	if spec.Sudo {
		cmdText = "sudo -S -p '' -- sh -c " + shellQuote(spec.Command)
	}

	if err := session.Start(cmdText); err != nil {
		return Result{}, failure(KindProtocolError, "start command", err)
	}

	// Ordering matters: elevation password first, payload second, then
	// close so the remote side sees EOF.
	go func() {
		defer stdin.Close()
		if spec.Sudo {
			io.WriteString(stdin, creds.Password+"\n")
		}
		if spec.Stdin != "" {
			io.WriteString(stdin, spec.Stdin)
		}
	}()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(e.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		client.Close()
		return Result{}, failure(KindCommandTimeout, "wait", fmt.Errorf("command exceeded %v", e.cfg.CommandTimeout))
	case <-ctx.Done():
		client.Close()
		return Result{}, failure(KindCommandTimeout, "wait", ctx.Err())
	}

	result := Result{
		Stdout: stdout.String(),
		Stderr: filterSudoPrompt(stderr.String()),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is a command-level outcome, not a transport
			// failure; the caller classifies it.
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, failure(KindProtocolError, "wait", err)
	}
	return result, nil
}

// Stat reports size and kind for a remote path. Best effort: any connection
// or protocol error degrades to "not found". Never use this for
// authorization decisions.
func (e *Engine) Stat(ctx context.Context, creds Credentials, remotePath string) (os.FileInfo, bool) {
	client, err := e.connect(ctx, creds)
	if err != nil {
		return nil, false
	}
	defer client.Close()

	sftpClient, err := newSFTPClient(client)
	if err != nil {
		return nil, false
	}
	defer sftpClient.Close()

	info, err := sftpClient.Stat(remotePath)
	if err != nil {
		return nil, false
	}
	return info, true
}

// shellQuote wraps s in single quotes for sh -c, escaping embedded quotes.
// Input always comes from the command catalog, never from the operator.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// filterSudoPrompt strips elevation-prompt noise from stderr. The prompt is
// suppressed with -p '' but some sudo builds still emit a password line.
func filterSudoPrompt(stderr string) string {
	if stderr == "" {
		return stderr
	}
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[sudo] password for ") {
			continue
		}
		if trimmed == "Password:" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
