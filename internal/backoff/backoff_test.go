package backoff

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGrowsAndCaps(t *testing.T) {
	b := New(500*time.Millisecond, 2*time.Second)
	b.rand = func(int64) int64 { return 0 }

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	want := []time.Duration{
		500 * time.Millisecond,
		850 * time.Millisecond,
		1445 * time.Millisecond,
		2 * time.Second,
		2 * time.Second,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("delays (-want +got):\n%s", diff)
	}

	b.Reset()
	if d := b.Next(); d != 500*time.Millisecond {
		t.Fatalf("after Reset = %v", d)
	}
}

func TestJitterNeverExceedsMax(t *testing.T) {
	b := New(time.Second, time.Second)
	b.rand = func(n int64) int64 { return n - 1 }
	for i := 0; i < 10; i++ {
		if d := b.Next(); d > time.Second {
			t.Fatalf("delay %v above cap", d)
		}
	}
}
