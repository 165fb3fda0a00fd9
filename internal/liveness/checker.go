// Package liveness implements the dead-man's switch between the host and the
// grab agents: a marker file on the tablet whose modification time the host
// refreshes on a fixed cadence and every agent polls.
//
// A stale or missing marker means the host is gone. The agent fails safe and
// releases its grab.
package liveness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/alvesvaren/rm-pad/internal/clock"
)

// TimeoutError reports a marker that was not refreshed in time.
type TimeoutError struct {
	Path    string
	Age     time.Duration
	Missing bool
}

func (e *TimeoutError) Error() string {
	if e.Missing {
		return fmt.Sprintf("liveness marker %s is missing", e.Path)
	}
	return fmt.Sprintf("liveness marker %s is stale (last refresh %s ago)", e.Path, e.Age.Round(time.Millisecond))
}

// Checker decides whether the marker is still fresh.
type Checker struct {
	Path       string
	StaleAfter time.Duration

	clock clock.Clock
	stat  func(string) (fs.FileInfo, error)
}

func NewChecker(path string, staleAfter time.Duration, clk clock.Clock) *Checker {
	return &Checker{Path: path, StaleAfter: staleAfter, clock: clk, stat: os.Stat}
}

// Check returns nil while the marker was refreshed less than StaleAfter ago
// and a *TimeoutError otherwise. Any stat failure counts as missing.
func (c *Checker) Check() error {
	info, err := c.stat(c.Path)
	if err != nil {
		return &TimeoutError{Path: c.Path, Missing: true}
	}
	age := c.clock.Now().Sub(info.ModTime())
	if age >= c.StaleAfter {
		return &TimeoutError{Path: c.Path, Age: age}
	}
	return nil
}

// IsTimeout reports whether err is a liveness timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
