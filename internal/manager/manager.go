// Package manager is the host connection manager. It owns the remote
// execution channel, runs one grab agent per enabled device, keeps the
// liveness marker fresh and reconnects with backoff whenever the link or an
// agent goes away.
//
//	Disconnected -> Connecting -> Provisioning -> Active -> Reconnecting
//	      ^              |              |                        |
//	      +--------------+--------------+          Connecting <--+
//
// Each Active cycle gets fresh GrabSessions and a reset fusion engine;
// nothing from a previous connection is carried over.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alvesvaren/rm-pad/internal/agentbin"
	"github.com/alvesvaren/rm-pad/internal/backoff"
	"github.com/alvesvaren/rm-pad/internal/clock"
	"github.com/alvesvaren/rm-pad/internal/device"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/fusion"
	"github.com/alvesvaren/rm-pad/internal/liveness"
	"github.com/alvesvaren/rm-pad/internal/metrics"
	"github.com/alvesvaren/rm-pad/internal/provision"
	"github.com/alvesvaren/rm-pad/internal/publish"
	"github.com/alvesvaren/rm-pad/internal/transport"
)

const (
	DefaultAliveFile       = "/tmp/rm-pad-alive"
	DefaultRefreshInterval = 2 * time.Second
	DefaultStaleAfter      = 8 * time.Second
	DefaultAcquireHoldoff  = 30 * time.Second

	// exitWait bounds how long a pump waits for an exit status once the
	// agent's stream has closed.
	exitWait = 3 * time.Second

	shutdownTimeout = 5 * time.Second
	eventQueue      = 512
)

type Config struct {
	Pen   bool
	Touch bool

	// PenDevice and TouchDevice select the input nodes: empty for the
	// profile default, "auto" to pick by device name, or a path.
	PenDevice   string
	TouchDevice string

	// Grab captures the devices exclusively. Without it the tablet UI keeps
	// receiving input too.
	Grab bool

	// AliveFile is the liveness marker on the tablet. Empty disables the
	// agents' self-check.
	AliveFile       string
	RefreshInterval time.Duration
	StaleAfter      time.Duration
	PollInterval    time.Duration

	RemotePath string

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	AcquireHoldoff time.Duration
}

func (c *Config) setDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = backoff.DefaultInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = backoff.DefaultMax
	}
	if c.AcquireHoldoff <= 0 {
		c.AcquireHoldoff = DefaultAcquireHoldoff
	}
}

// EngineFunc returns the fusion engine for a detected tablet. It is called
// once per connection; returning the same engine for the same profile keeps
// the virtual devices across reconnects.
type EngineFunc func(profile device.Profile) (*fusion.Engine, error)

// Option customises a Manager.
type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option { return func(mg *Manager) { mg.metrics = m } }

// WithStatus reports every state change to s.
func WithStatus(s publish.StatusSink) Option { return func(mg *Manager) { mg.status = s } }

func WithClock(c clock.Clock) Option { return func(mg *Manager) { mg.clock = c } }

// WithStateHook calls fn on every state transition, from the goroutine
// running the manager.
func WithStateHook(fn func(State)) Option { return func(mg *Manager) { mg.onState = fn } }

// Manager is the Host Connection Manager.
type Manager struct {
	cfg     Config
	dialer  transport.Dialer
	store   *agentbin.Store
	engines EngineFunc
	log     *zap.Logger
	metrics *metrics.Metrics
	status  publish.StatusSink
	clock   clock.Clock
	onState func(State)

	sessions *registry

	mu     sync.Mutex
	state  State
	detail string
	since  time.Time
	failed map[evdev.Source]string
}

func New(cfg Config, dialer transport.Dialer, store *agentbin.Store, engines EngineFunc, log *zap.Logger, opts ...Option) *Manager {
	cfg.setDefaults()
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		store:    store,
		engines:  engines,
		log:      log,
		clock:    clock.Real(),
		sessions: newRegistry(),
		failed:   make(map[evdev.Source]string),
	}
	for _, o := range opts {
		o(m)
	}
	m.since = m.clock.Now()
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Sessions returns the live grab sessions.
func (m *Manager) Sessions() []*GrabSession { return m.sessions.list() }

// Status is a snapshot for status sinks.
func (m *Manager) Status() publish.Status {
	m.mu.Lock()
	st := publish.Status{State: m.state.String(), Detail: m.detail, Since: m.since, Sessions: map[string]string{}}
	for src, msg := range m.failed {
		st.Sessions[src.String()] = "failed: " + msg
	}
	m.mu.Unlock()
	for _, s := range m.sessions.list() {
		switch {
		case s.Grabbed():
			st.Sessions[s.Source.String()] = "active"
		case s.Streaming():
			st.Sessions[s.Source.String()] = "streaming"
		default:
			st.Sessions[s.Source.String()] = "starting"
		}
	}
	return st
}

func (m *Manager) setState(s State, detail string) {
	m.mu.Lock()
	prev := m.state
	m.state, m.detail = s, detail
	if prev != s {
		m.since = m.clock.Now()
	}
	m.mu.Unlock()

	if prev != s {
		fields := []zap.Field{zap.Stringer("from", prev), zap.Stringer("to", s)}
		if detail != "" {
			fields = append(fields, zap.String("detail", detail))
		}
		m.log.Info("state changed", fields...)
	}
	m.metrics.State(s.String(), stateNames())
	m.publishStatus()
	if prev != s && m.onState != nil {
		m.onState(s)
	}
}

func (m *Manager) publishStatus() {
	if m.status == nil {
		return
	}
	if err := m.status.PublishStatus(m.Status()); err != nil {
		m.log.Debug("status not delivered", zap.Error(err))
	}
}

func (m *Manager) sources() []evdev.Source {
	var out []evdev.Source
	if m.cfg.Pen {
		out = append(out, evdev.Pen)
	}
	if m.cfg.Touch {
		out = append(out, evdev.Touch)
	}
	return out
}

func (m *Manager) nodeFor(src evdev.Source) string {
	if src == evdev.Pen {
		return m.cfg.PenDevice
	}
	return m.cfg.TouchDevice
}

// Run connects and keeps reconnecting until ctx is cancelled. On return
// every agent has been stopped and the liveness marker is no longer
// refreshed.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.sources()) == 0 {
		return errors.New("no input device enabled")
	}
	bo := backoff.New(m.cfg.BackoffInitial, m.cfg.BackoffMax)

	m.setState(Connecting, "")
	for {
		reached, err := m.cycle(ctx)
		if ctx.Err() != nil {
			m.setState(Disconnected, "stopped")
			return nil
		}

		next := Disconnected
		if reached {
			next = Reconnecting
			bo.Reset()
			m.metrics.Reconnect()
		}
		delay := bo.Next()

		var acq *AcquisitionError
		if errors.As(err, &acq) {
			delay = m.cfg.AcquireHoldoff
			m.log.Error("no device could be grabbed; holding off", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			m.log.Warn("connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		}
		m.setState(next, err.Error())

		select {
		case <-ctx.Done():
			m.setState(Disconnected, "stopped")
			return nil
		case <-m.clock.After(delay):
		}
		m.setState(Connecting, "")
	}
}

// cycle runs one connection from dial to teardown. reached reports whether
// it got as far as Active.
func (m *Manager) cycle(ctx context.Context) (reached bool, err error) {
	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		return false, &TransportError{Op: "connect", Err: err}
	}

	m.setState(Provisioning, "")
	m.mu.Lock()
	m.failed = make(map[evdev.Source]string)
	m.mu.Unlock()

	prov := provision.New(conn, m.store, m.cfg.RemotePath, m.log.Named("provision"))
	target, err := m.provision(ctx, conn, prov)
	if err != nil {
		conn.Close()
		return false, err
	}
	engine, err := m.engines(target.Profile)
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("create virtual devices: %w", err)
	}
	if err := engine.Reset(); err != nil {
		m.log.Warn("couldn't release virtual devices", zap.Error(err))
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(gctx)

	var (
		sessions []*GrabSession
		acq      *AcquisitionError
	)
	for _, src := range m.sources() {
		s, err := m.startSession(gctx, conn, prov, target, src)
		if err != nil {
			if !errors.As(err, &acq) {
				cancel()
				m.teardownLogged(conn, sessions, ctx.Err() != nil)
				return false, err
			}
			m.acquisitionFailed(acq)
			continue
		}
		sessions = append(sessions, s)
	}
	if len(sessions) == 0 {
		cancel()
		m.teardownLogged(conn, nil, false)
		return false, acq
	}
	m.metrics.SessionsActive(len(sessions))
	m.setState(Active, "")

	events := make(chan evdev.Event, eventQueue)
	var live atomic.Int32
	live.Store(int32(len(sessions)))

	g.Go(func() error {
		if err := engine.Run(gctx, events); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-conn.Done():
			return &TransportError{Op: "link", Err: transport.ErrClosed}
		case <-gctx.Done():
			return nil
		}
	})
	if m.cfg.AliveFile != "" {
		r := &liveness.Refresher{
			Interval:   m.cfg.RefreshInterval,
			StaleAfter: m.cfg.StaleAfter,
			Touch:      func(ctx context.Context) error { return m.touchMarker(ctx, conn) },
			OnResult: func(err error) {
				if err != nil {
					m.metrics.RefreshFailure()
				}
			},
			Clock: m.clock,
			Log:   m.log.Named("liveness"),
		}
		// A link that silently stops carrying commands is only noticed here
		// when SSH keepalive is off.
		g.Go(func() error {
			if err := r.Run(gctx); errors.Is(err, liveness.ErrStale) {
				return &LivenessTimeout{Host: true, StaleAfter: m.cfg.StaleAfter, Err: err}
			}
			return nil
		})
	}
	for _, s := range sessions {
		s := s
		g.Go(func() error { return m.pump(gctx, s, target.Profile.Layout, events, &live) })
	}

	err = g.Wait()
	cancel()
	if rerr := engine.Reset(); rerr != nil {
		m.log.Warn("couldn't release virtual devices", zap.Error(rerr))
	}
	m.teardownLogged(conn, sessions, ctx.Err() != nil)
	if err == nil {
		err = &TransportError{Op: "session", Err: errors.New("all agents ended")}
	}
	return true, err
}

func (m *Manager) provision(ctx context.Context, conn transport.Conn, prov *provision.Provisioner) (provision.Target, error) {
	target, err := prov.Detect(ctx)
	if err != nil {
		return target, fmt.Errorf("provision: %w", err)
	}
	m.log.Info("tablet detected",
		zap.String("model", target.Model),
		zap.String("profile", target.Profile.Name),
		zap.String("arch", target.Arch),
		zap.Stringer("layout", target.Profile.Layout))
	if err := prov.EnsureAgent(ctx, target.Arch); err != nil {
		return target, fmt.Errorf("provision: %w", err)
	}
	if m.cfg.AliveFile != "" {
		// Agents treat a missing marker as stale, so it must exist first.
		if err := m.touchMarker(ctx, conn); err != nil {
			return target, &TransportError{Op: "liveness", Err: err}
		}
	}
	return target, nil
}

func (m *Manager) touchMarker(ctx context.Context, conn transport.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RefreshInterval)
	defer cancel()
	_, err := conn.Run(ctx, "touch "+transport.Quote(m.cfg.AliveFile), nil)
	return err
}

func (m *Manager) startSession(ctx context.Context, conn transport.Conn, prov *provision.Provisioner, target provision.Target, src evdev.Source) (*GrabSession, error) {
	configured := m.nodeFor(src)
	node, err := prov.ResolveNode(ctx, configured, src, target.Profile)
	if err != nil {
		return nil, &AcquisitionError{Source: src, Device: configured, Err: err}
	}

	s := newSession(src, node, m.cfg.AliveFile, m.cfg.StaleAfter, m.clock.Now())
	if err := m.sessions.add(s); err != nil {
		return nil, &AcquisitionError{Source: src, Device: node, Err: err}
	}
	if err := prov.Reap(ctx, src); err != nil {
		m.sessions.remove(s)
		return nil, &TransportError{Op: "reap", Err: err}
	}

	cmd := prov.AgentCommand(provision.AgentArgs{
		Device:       node,
		AliveFile:    m.cfg.AliveFile,
		StaleAfter:   m.cfg.StaleAfter,
		PollInterval: m.cfg.PollInterval,
		PIDFile:      prov.PIDFile(src, s.ShortID()),
		NoGrab:       !m.cfg.Grab,
	})
	proc, err := conn.Start(ctx, cmd)
	if err != nil {
		m.sessions.remove(s)
		return nil, &TransportError{Op: "start " + src.String() + " agent", Err: err}
	}
	s.proc = proc
	m.log.Info("agent started",
		zap.Stringer("source", src),
		zap.String("device", node),
		zap.String("session", s.ShortID()),
		zap.Bool("grab", m.cfg.Grab))
	return s, nil
}

func (m *Manager) acquisitionFailed(err *AcquisitionError) {
	m.metrics.AcquisitionFailure(err.Source.String())
	m.mu.Lock()
	m.failed[err.Source] = err.Err.Error()
	m.mu.Unlock()
	m.log.Error("device could not be grabbed; continuing without it",
		zap.Stringer("source", err.Source), zap.String("device", err.Device), zap.Error(err.Err))
	m.publishStatus()
}

// pump decodes one agent's stream into the fusion channel. A partial
// record tears the cycle down; so does any agent exit except a failed
// acquisition while another device is still running.
func (m *Manager) pump(ctx context.Context, s *GrabSession, layout evdev.Layout, out chan<- evdev.Event, live *atomic.Int32) error {
	log := m.log.With(zap.Stringer("source", s.Source), zap.String("session", s.ShortID()))
	dec := evdev.NewStreamDecoder(s.proc.Stdout(), layout, s.Source)
	debug := rate.Sometimes{Interval: 10 * time.Second}
	var records uint64

	for {
		ev, err := dec.Next()
		if err != nil {
			return m.sessionEnded(ctx, s, err, live, log)
		}
		records++
		if !s.streaming.Swap(true) {
			if m.cfg.Grab {
				s.grabbed.Store(true)
				log.Info("grab session active", zap.String("device", s.Device))
			} else {
				log.Info("streaming without grab", zap.String("device", s.Device))
			}
			m.publishStatus()
		}
		debug.Do(func() { log.Debug("records relayed", zap.Uint64("records", records)) })

		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) sessionEnded(ctx context.Context, s *GrabSession, readErr error, live *atomic.Int32, log *zap.Logger) error {
	if ctx.Err() != nil {
		return nil
	}
	var perr *evdev.ProtocolError
	if errors.As(readErr, &perr) {
		s.stop()
		return fmt.Errorf("%s stream: %w", s.Source, readErr)
	}

	err := agentExit(s, m.waitExit(ctx, s))
	if ctx.Err() != nil {
		return nil
	}
	var acq *AcquisitionError
	if errors.As(err, &acq) {
		m.sessions.remove(s)
		m.acquisitionFailed(acq)
		if live.Add(-1) == 0 {
			return err
		}
		return nil
	}
	log.Warn("agent stream ended", zap.Error(err))
	return err
}

func (m *Manager) waitExit(ctx context.Context, s *GrabSession) error {
	done := make(chan error, 1)
	go func() { done <- s.proc.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.clock.After(exitWait):
		s.stop()
		return fmt.Errorf("%s stream closed but the agent did not exit within %s", s.Source, exitWait)
	}
}

// teardown stops every session and closes the connection. On a deliberate
// stop it also removes the liveness marker so agents that miss the kill
// still give up their grab immediately.
func (m *Manager) teardown(conn transport.Conn, sessions []*GrabSession, stopping bool) error {
	var result *multierror.Error
	for _, s := range sessions {
		s.stop()
		m.sessions.remove(s)
	}
	m.metrics.SessionsActive(m.sessions.len())

	alive := true
	select {
	case <-conn.Done():
		alive = false
	default:
	}
	if stopping && alive && m.cfg.AliveFile != "" {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if _, err := conn.Run(ctx, "rm -f "+transport.Quote(m.cfg.AliveFile), nil); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove liveness marker: %w", err))
		}
		cancel()
	}
	if err := conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (m *Manager) teardownLogged(conn transport.Conn, sessions []*GrabSession, stopping bool) {
	if err := m.teardown(conn, sessions, stopping); err != nil {
		m.log.Warn("teardown incomplete", zap.Error(err))
	}
}
