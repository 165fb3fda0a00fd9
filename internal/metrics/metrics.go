// Package metrics exposes counters about the forwarding pipeline and the
// connection manager on an optional Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so components never need to check.
type Metrics struct {
	Registry *prometheus.Registry

	events          *prometheus.CounterVec
	touchFrames     *prometheus.CounterVec
	penFrames       prometheus.Counter
	reconnects      prometheus.Counter
	acquireFailures *prometheus.CounterVec
	refreshFailures prometheus.Counter
	state           *prometheus.GaugeVec
	sessionsActive  prometheus.Gauge
	publishFailures *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmpad", Name: "decoded_events_total",
			Help: "Input events decoded from the tablet.",
		}, []string{"source"}),
		touchFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmpad", Name: "touch_frames_total",
			Help: "Touch frames by outcome (forwarded or suppressed by palm rejection).",
		}, []string{"outcome"}),
		penFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rmpad", Name: "pen_frames_total",
			Help: "Pen frames forwarded.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rmpad", Name: "reconnects_total",
			Help: "Times the manager lost an active connection and started over.",
		}),
		acquireFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmpad", Name: "acquisition_failures_total",
			Help: "Agents that exited because the device could not be grabbed.",
		}, []string{"source"}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rmpad", Name: "liveness_refresh_failures_total",
			Help: "Liveness marker refreshes that failed.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rmpad", Name: "manager_state",
			Help: "1 for the connection manager's current state.",
		}, []string{"state"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rmpad", Name: "grab_sessions_active",
			Help: "Grab sessions currently running.",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmpad", Name: "publish_failures_total",
			Help: "Events a sink failed to accept.",
		}, []string{"source"}),
	}
	m.Registry.MustRegister(m.events, m.touchFrames, m.penFrames, m.reconnects,
		m.acquireFailures, m.refreshFailures, m.state, m.sessionsActive, m.publishFailures)
	return m
}

func (m *Metrics) Event(source string) {
	if m != nil {
		m.events.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) TouchFrame(suppressed bool) {
	if m == nil {
		return
	}
	outcome := "forwarded"
	if suppressed {
		outcome = "suppressed"
	}
	m.touchFrames.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PenFrame() {
	if m != nil {
		m.penFrames.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) AcquisitionFailure(source string) {
	if m != nil {
		m.acquireFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) RefreshFailure() {
	if m != nil {
		m.refreshFailures.Inc()
	}
}

func (m *Metrics) PublishFailure(source string) {
	if m != nil {
		m.publishFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) SessionsActive(n int) {
	if m != nil {
		m.sessionsActive.Set(float64(n))
	}
}

// State marks state as current among all.
func (m *Metrics) State(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("metrics listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
