package sshexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transport failures are deliberately distinct from a command that ran and
// exited non-zero: a non-zero exit comes back as an exit code with output,
// while these sentinels mark cycles where the command could not run at all.
// Callers inspect them with errors.Is.
var (
	// ErrConnectionFailed marks a dial failure (refused, unreachable, DNS).
	ErrConnectionFailed = errors.New("ssh: connection failed")

	// ErrAuthFailed marks a completed handshake whose authentication was
	// rejected by the remote host.
	ErrAuthFailed = errors.New("ssh: authentication failed")

	// ErrTimeout marks a dial or command that ran past the caller's deadline.
	ErrTimeout = errors.New("ssh: timed out")

	// ErrSessionFailed marks a connection that was established but could not
	// produce a usable session or exit status.
	ErrSessionFailed = errors.New("ssh: session failed")
)

// classifyHandshakeError separates authentication rejections from other
// handshake failures. The ssh package reports both through one opaque error,
// so the auth case is recognized by its stable message fragments.
func classifyHandshakeError(addr string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return fmt.Errorf("%w: %s: %v", ErrAuthFailed, addr, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, addr, err)
}

// classifyDialError maps a raw dial failure onto the transport taxonomy,
// preferring the timeout sentinel when the context deadline was the cause.
func classifyDialError(ctx context.Context, addr string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: dial %s: %v", ErrTimeout, addr, err)
	}
	return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, addr, err)
}
