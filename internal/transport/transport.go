// Package transport is the remote execution channel between the host and
// the tablet: one connection, short commands, and long-running processes
// whose stdout is a byte stream.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrClosed is returned by operations on a connection that has gone away.
var ErrClosed = errors.New("transport closed")

// Dialer establishes connections to the tablet.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is an established remote execution channel.
type Conn interface {
	// Run executes cmd to completion and returns its stdout. A non-zero
	// exit status is reported as *ExitError.
	Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error)

	// Start launches a long-running cmd. Cancelling ctx kills it.
	Start(ctx context.Context, cmd string) (Process, error)

	// Done is closed once the connection is known to be dead.
	Done() <-chan struct{}

	Close() error
}

// Process is a remote command started with Conn.Start.
type Process interface {
	Stdout() io.Reader

	// Wait blocks until the process ends. It returns nil on exit status 0,
	// *ExitError on any other status, and a transport error when no status
	// arrived.
	Wait() error

	// Kill asks the remote side to stop and closes the channel without
	// waiting for an acknowledgement. Safe to call more than once.
	Kill()
}

// ExitError reports a remote command that ended with a status.
type ExitError struct {
	Cmd    string
	Status int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%q exited with status %d", e.Cmd, e.Status)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExitStatus extracts the remote exit status from err. ok is false when err
// carries no status (nil, or a transport failure).
func ExitStatus(err error) (status int, ok bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Status, true
	}
	return 0, false
}

// Quote makes s a single word for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Command joins args into a shell command line, quoting each one.
func Command(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}
