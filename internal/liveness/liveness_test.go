package liveness

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/alvesvaren/rm-pad/internal/clock"
)

type fakeInfo struct {
	fs.FileInfo
	mtime time.Time
}

func (f fakeInfo) ModTime() time.Time { return f.mtime }

// marker simulates the tablet-side file: the host refreshes it, the checker stats it.
type marker struct {
	mtime   time.Time
	present bool
}

func (m *marker) stat(string) (fs.FileInfo, error) {
	if !m.present {
		return nil, fs.ErrNotExist
	}
	return fakeInfo{mtime: m.mtime}, nil
}

func newTestChecker(m *marker, clk *clock.Fake, stale time.Duration) *Checker {
	c := NewChecker("/tmp/rm-pad-alive", stale, clk)
	c.stat = m.stat
	return c
}

func TestCheckerFreshStaleMissing(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	m := &marker{mtime: start, present: true}
	c := newTestChecker(m, clk, 5*time.Second)

	if err := c.Check(); err != nil {
		t.Fatalf("fresh marker: %v", err)
	}
	clk.Advance(4999 * time.Millisecond)
	if err := c.Check(); err != nil {
		t.Fatalf("just below threshold: %v", err)
	}
	clk.Advance(time.Millisecond)
	err := c.Check()
	if !IsTimeout(err) {
		t.Fatalf("at threshold: err = %v, want timeout", err)
	}

	m.present = false
	var te *TimeoutError
	if err := c.Check(); !errors.As(err, &te) || !te.Missing {
		t.Fatalf("missing marker: err = %v, want missing timeout", err)
	}
}

// A 2s refresh cadence with up to 1s of jitter per refresh never trips a 5s
// threshold, and once refreshing stops the checker reports stale within 5s.
func TestCadenceAgainstThreshold(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	m := &marker{mtime: start, present: true}
	c := newTestChecker(m, clk, 5*time.Second)

	jitter := []time.Duration{0, time.Second, 300 * time.Millisecond, time.Second, 999 * time.Millisecond, 0, 700 * time.Millisecond}
	const step = 50 * time.Millisecond
	next := start.Add(2*time.Second + jitter[0])
	for i := 1; i < 60; i++ {
		for clk.Now().Before(next) {
			clk.Advance(step)
			if err := c.Check(); err != nil {
				t.Fatalf("false staleness at %v: %v", clk.Now().Sub(start), err)
			}
		}
		m.mtime = clk.Now()
		next = clk.Now().Add(2*time.Second + jitter[i%len(jitter)])
	}

	stopped := m.mtime
	for c.Check() == nil {
		clk.Advance(step)
	}
	if waited := clk.Now().Sub(stopped); waited > 5*time.Second {
		t.Fatalf("stale detected %v after refresh stopped, want <= 5s", waited)
	}
}

func TestCheckerRealFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alive")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewChecker(path, 10*time.Second, clock.Real())
	if err := c.Check(); err != nil {
		t.Fatalf("fresh file: %v", err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	if err := c.Check(); !IsTimeout(err) {
		t.Fatalf("old file: err = %v", err)
	}
}

func TestWatcherFiresOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alive")
	other := filepath.Join(dir, "other")
	for _, p := range []string{path, other} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	gone := make(chan struct{}, 2)
	w, err := Watch(path, func() { gone <- struct{}{} }, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.Remove(other); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gone:
		t.Fatal("fired for an unrelated file")
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gone:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report marker removal")
	}
}

func TestRefresherCadence(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	touched := make(chan time.Time, 10)
	results := make(chan error, 10)
	calls := 0
	r := &Refresher{
		Interval: 2 * time.Second,
		Touch: func(ctx context.Context) error {
			calls++
			touched <- clk.Now()
			if calls == 2 {
				return errors.New("link flapped")
			}
			return nil
		},
		OnResult: func(err error) { results <- err },
		Clock:    clk,
		Log:      zaptest.NewLogger(t),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	want := []time.Time{time.Unix(0, 0), time.Unix(2, 0), time.Unix(4, 0)}
	for i, w := range want {
		select {
		case got := <-touched:
			if !got.Equal(w) {
				t.Fatalf("touch %d at %v, want %v", i, got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("touch %d never happened", i)
		}
		if err := <-results; (err != nil) != (i == 1) {
			t.Fatalf("attempt %d result = %v", i, err)
		}
		clk.Advance(2 * time.Second)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRefresherGivesUpWhenMarkerWouldBeStale(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	touched := make(chan time.Time, 10)
	r := &Refresher{
		Interval:   2 * time.Second,
		StaleAfter: 5 * time.Second,
		Touch: func(ctx context.Context) error {
			touched <- clk.Now()
			return errors.New("no route to host")
		},
		Clock: clk,
		Log:   zaptest.NewLogger(t),
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Attempts at 0s, 2s and 4s are still inside the threshold; the one at
	// 6s is not.
	for i := 0; i < 4; i++ {
		select {
		case <-touched:
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d never happened", i)
		}
		if i < 3 {
			clk.Advance(2 * time.Second)
		}
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrStale) {
			t.Fatalf("Run returned %v, want ErrStale", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept refreshing a stale marker")
	}
}
