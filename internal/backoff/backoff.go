// Package backoff computes reconnect delays: start small, grow by a
// constant factor, never exceed a cap, and add a little jitter so several
// clients don't retry in lockstep.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	DefaultInitial = 500 * time.Millisecond
	DefaultMax     = 5 * time.Second
	DefaultFactor  = 1.7
	DefaultJitter  = 250 * time.Millisecond
)

// Backoff is not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  time.Duration

	cur  time.Duration
	rand func(n int64) int64
}

func New(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max, Factor: DefaultFactor, Jitter: DefaultJitter}
}

// Next returns the delay before the next attempt and advances the state.
// The result never exceeds Max.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Initial
	}
	d := b.cur
	if b.Jitter > 0 {
		rnd := b.rand
		if rnd == nil {
			rnd = rand.Int63n
		}
		d += time.Duration(rnd(int64(b.Jitter)))
	}
	if d > b.Max {
		d = b.Max
	}
	b.cur = time.Duration(math.Min(float64(b.Max), float64(b.cur)*b.Factor))
	return d
}

// Reset starts over from Initial, after a successful attempt.
func (b *Backoff) Reset() { b.cur = 0 }
