package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/clock"
)

// ErrStale is returned by Refresher.Run once no refresh has succeeded for
// StaleAfter. By then the agents have released their grabs.
var ErrStale = errors.New("liveness marker went stale")

// TouchFunc refreshes the marker's modification time on the tablet.
type TouchFunc func(ctx context.Context) error

// Refresher is the host side of the channel. It refreshes the marker on a
// fixed cadence that must be shorter than the agents' staleness threshold.
// If it stops running for any reason the agents give up their grab; that is
// the intended failure mode.
type Refresher struct {
	Interval time.Duration
	Touch    TouchFunc

	// StaleAfter, when positive, makes Run give up with ErrStale once the
	// last successful refresh is this old. It should match the agents'
	// threshold.
	StaleAfter time.Duration

	// OnResult, when set, is called after every attempt.
	OnResult func(err error)

	Clock clock.Clock
	Log   *zap.Logger
}

// Run refreshes immediately and then every Interval until ctx is done.
// Individual failures are logged and retried on the next tick. The marker
// is assumed fresh when Run starts.
func (r *Refresher) Run(ctx context.Context) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	ticker := clk.NewTicker(r.Interval)
	defer ticker.Stop()

	failures := 0
	lastOK := clk.Now()
	for {
		err := r.Touch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			failures++
			log.Warn("liveness refresh failed", zap.Error(err), zap.Int("consecutive", failures))
		} else {
			if failures > 0 {
				log.Info("liveness refresh recovered", zap.Int("after_failures", failures))
			}
			failures = 0
			lastOK = clk.Now()
		}
		if r.OnResult != nil {
			r.OnResult(err)
		}
		if age := clk.Now().Sub(lastOK); err != nil && r.StaleAfter > 0 && age >= r.StaleAfter {
			return fmt.Errorf("%w: no refresh for %s: %v", ErrStale, age, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
