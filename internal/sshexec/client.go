package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// HostDescriptor identifies one remote host and how to authenticate to it.
// It is treated as opaque configuration: no validation here beyond what the
// ssh handshake itself enforces, and nothing is persisted.
type HostDescriptor struct {
	Address      string
	Port         int
	User         string
	Password     string
	IdentityFile string
}

// Addr returns the host:port dial address.
func (h HostDescriptor) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// Client runs single commands on one remote host. Each Run dials a fresh
// connection and session; no state is shared between calls, so one Client
// may be used from concurrent collection cycles.
type Client struct {
	host           HostDescriptor
	config         *ssh.ClientConfig
	connectTimeout time.Duration
	logger         *zap.Logger
}

// NewClient builds a client for the described host. The client config is
// assembled once: identity file first (when given and readable), password as
// fallback. At least one usable auth method is required.
func NewClient(host HostDescriptor, connectTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	var authMethods []ssh.AuthMethod

	if host.IdentityFile != "" {
		keyData, err := os.ReadFile(host.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read identity file %s: %w", host.IdentityFile, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity file %s: %w", host.IdentityFile, err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if host.Password != "" {
		authMethods = append(authMethods, ssh.Password(host.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication methods available for %s (need identity file or password)", host.Addr())
	}

	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	return &Client{
		host: host,
		config: &ssh.ClientConfig{
			User: host.User,
			Auth: authMethods,
			// Host key pinning is handled by the surrounding deployment;
			// the probe accepts whatever key the host presents.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         connectTimeout,
		},
		connectTimeout: connectTimeout,
		logger:         logger,
	}, nil
}

// Run executes one command on the remote host and returns its exit status
// together with stdout and stderr merged in emission order. Several of the
// diagnostic tools issued through this client write to stderr or mix streams
// depending on platform, so the two are never separated.
//
// A non-zero remote exit comes back as (code, output, nil). A returned error
// always belongs to the transport taxonomy in errors.go.
func (c *Client) Run(ctx context.Context, command string) (int, string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return -1, "", err
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return -1, "", fmt.Errorf("%w: %s: %v", ErrSessionFailed, c.host.Addr(), err)
	}
	defer session.Close()

	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output

	c.logger.Debug("Running remote command",
		zap.String("host", c.host.Addr()),
		zap.String("command", command))

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err = <-done:
		// fall through to exit status handling
	case <-ctx.Done():
		// Closing the session tears down the channel; the remote command is
		// aborted rather than left to finish and be discarded.
		session.Close()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return -1, output.String(), fmt.Errorf("%w: command %q on %s", ErrTimeout, command, c.host.Addr())
		}
		return -1, output.String(), fmt.Errorf("command %q on %s aborted: %w", command, c.host.Addr(), ctx.Err())
	}

	if err == nil {
		return 0, output.String(), nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		// The command ran and failed; that is a result, not a transport error.
		return exitErr.ExitStatus(), output.String(), nil
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		return -1, output.String(), fmt.Errorf("%w: %s: remote returned no exit status", ErrSessionFailed, c.host.Addr())
	}

	return -1, output.String(), fmt.Errorf("%w: %s: %v", ErrSessionFailed, c.host.Addr(), err)
}

// dial opens and handshakes a fresh connection, honoring the context for
// both the TCP dial and the ssh handshake.
func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	addr := c.host.Addr()

	dialer := net.Dialer{Timeout: c.connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(ctx, addr, err)
	}

	// The handshake has no context support of its own; bound it with the
	// caller's deadline (or the connect timeout) via the socket deadline.
	deadline := time.Now().Add(c.connectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := netConn.SetDeadline(deadline); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, c.config)
	if err != nil {
		netConn.Close()
		return nil, classifyHandshakeError(addr, err)
	}

	// Clear the handshake deadline; command duration is bounded by ctx.
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}
