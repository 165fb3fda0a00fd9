package manager

import (
	"fmt"
	"time"

	"github.com/alvesvaren/rm-pad/internal/agent"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/transport"
)

// ProtocolError is a partial or malformed record. The session is torn down
// and the transport treated as broken.
type ProtocolError = evdev.ProtocolError

// AcquisitionError means an agent could not capture its device (busy,
// missing or not permitted). It is not retried until the holdoff passes.
type AcquisitionError struct {
	Source evdev.Source
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("%s: acquire %s: %v", e.Source, e.Device, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// TransportError is a link or channel failure. It is always retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LivenessTimeout means the liveness marker went stale: either an agent
// exited because of it, or the host failed to refresh it for StaleAfter.
// The host treats it the same as a lost transport.
type LivenessTimeout struct {
	Source     evdev.Source
	StaleAfter time.Duration
	Err        error

	// Host is set when the host's own refreshes failed; Source is then
	// meaningless.
	Host bool
}

func (e *LivenessTimeout) Error() string {
	if e.Host {
		return fmt.Sprintf("liveness marker not refreshed within %s: %v", e.StaleAfter, e.Err)
	}
	return fmt.Sprintf("%s agent: liveness marker not refreshed within %s", e.Source, e.StaleAfter)
}

func (e *LivenessTimeout) Unwrap() error { return e.Err }

// agentExit classifies how an agent process ended. err is the result of
// Process.Wait; nil means a clean exit.
func agentExit(s *GrabSession, err error) error {
	status, ok := transport.ExitStatus(err)
	if !ok {
		if err == nil {
			err = fmt.Errorf("%s agent exited", s.Source)
		}
		return &TransportError{Op: s.Source.String() + " stream", Err: err}
	}
	switch status {
	case agent.ExitAcquire:
		return &AcquisitionError{Source: s.Source, Device: s.Device, Err: err}
	case agent.ExitStale:
		return &LivenessTimeout{Source: s.Source, StaleAfter: s.StaleAfter, Err: err}
	}
	return &TransportError{Op: s.Source.String() + " stream", Err: fmt.Errorf("%s: %w", agent.CodeName(status), err)}
}
