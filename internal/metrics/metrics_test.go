package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Event("pen")
	m.TouchFrame(true)
	m.State("Active", []string{"Active"})
}

func TestCounters(t *testing.T) {
	m := New()
	m.TouchFrame(true)
	m.TouchFrame(true)
	m.TouchFrame(false)
	if got := testutil.ToFloat64(m.touchFrames.WithLabelValues("suppressed")); got != 2 {
		t.Fatalf("suppressed = %v", got)
	}

	all := []string{"Disconnected", "Active"}
	m.State("Disconnected", all)
	m.State("Active", all)
	if testutil.ToFloat64(m.state.WithLabelValues("Active")) != 1 ||
		testutil.ToFloat64(m.state.WithLabelValues("Disconnected")) != 0 {
		t.Fatal("state gauge not exclusive")
	}
}
