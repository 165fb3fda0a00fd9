package agent

import (
	"errors"
	"fmt"
)

// Process exit codes. They are the only thing the host learns about why an
// agent stopped.
const (
	ExitOK           = 0 // signal or deliberate stop
	ExitUsage        = 1
	ExitAcquire      = 2 // open or EVIOCGRAB failed: do not retry rapidly
	ExitIO           = 3 // device read or poll failed
	ExitStale        = 4 // liveness marker stale or removed
	ExitConsumerGone = 5 // output write failed or output hung up
)

// ExitError carries the exit code for a failed run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v", CodeName(e.Code), e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitIO
}

// CodeName describes an exit code.
func CodeName(code int) string {
	switch code {
	case ExitOK:
		return "ok"
	case ExitUsage:
		return "usage"
	case ExitAcquire:
		return "acquisition failed"
	case ExitIO:
		return "i/o error"
	case ExitStale:
		return "liveness timeout"
	case ExitConsumerGone:
		return "consumer gone"
	}
	return fmt.Sprintf("exit %d", code)
}

func exitErr(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}
