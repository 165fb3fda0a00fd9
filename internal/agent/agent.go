// Package agent is the remote grab agent that runs on the tablet.
//
// It exclusively captures one input node and relays every record to its
// output, one record at a time, until the output goes away, a termination
// signal arrives, or the liveness marker goes stale. On every one of those
// paths the grab is released before Run returns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/alvesvaren/rm-pad/internal/clock"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/liveness"
)

// Config is the agent's command line.
type Config struct {
	DevicePath string

	// AliveFile enables the liveness self-check. Empty disables it; an
	// external watchdog is then the only backstop.
	AliveFile    string
	StaleAfter   time.Duration
	PollInterval time.Duration

	PIDFile string

	// NoGrab relays without exclusive capture (dump mode).
	NoGrab bool

	// RecordSize overrides the native input_event size.
	RecordSize int
}

const DefaultPollInterval = time.Second

// Agent relays one device. Create with New and call Run once.
type Agent struct {
	cfg   Config
	out   *os.File
	log   *zap.Logger
	clock clock.Clock
	open  func(path string) (Device, error)
}

// Option customises an Agent.
type Option func(*Agent)

// WithOpener replaces the device opener.
func WithOpener(open func(path string) (Device, error)) Option {
	return func(a *Agent) { a.open = open }
}

// WithClock replaces the clock used for the liveness check.
func WithClock(clk clock.Clock) Option {
	return func(a *Agent) { a.clock = clk }
}

func New(cfg Config, out *os.File, log *zap.Logger, opts ...Option) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RecordSize <= 0 {
		cfg.RecordSize = evdev.NativeLayout().Size
	}
	a := &Agent{cfg: cfg, out: out, log: log, clock: clock.Real(), open: OpenDevice}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run captures the device and relays until a stop condition. It returns nil
// after a termination request and an *ExitError otherwise.
func (a *Agent) Run(ctx context.Context) (err error) {
	dev, err := a.open(a.cfg.DevicePath)
	if err != nil {
		return exitErr(ExitAcquire, err)
	}
	defer dev.Close()

	if !a.cfg.NoGrab {
		if err := dev.Grab(); err != nil {
			return exitErr(ExitAcquire, err)
		}
		a.log.Info("grab acquired", zap.String("device", a.cfg.DevicePath))
		defer func() {
			if rerr := dev.Release(); rerr != nil {
				a.log.Error("grab release failed", zap.Error(rerr))
			} else {
				a.log.Info("grab released", zap.String("device", a.cfg.DevicePath), zap.NamedError("reason", err))
			}
		}()
	}

	if ce := a.log.Check(zap.DebugLevel, "axis ranges"); ce != nil {
		ce.Write(zap.String("device", a.cfg.DevicePath), zap.Any("ranges", AbsRanges(dev)))
	}

	if a.cfg.PIDFile != "" {
		if werr := os.WriteFile(a.cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); werr != nil {
			a.log.Warn("couldn't write pidfile", zap.String("path", a.cfg.PIDFile), zap.Error(werr))
		} else {
			defer os.Remove(a.cfg.PIDFile)
		}
	}

	var wake [2]int
	if err := unix.Pipe2(wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return exitErr(ExitIO, fmt.Errorf("wake pipe: %w", err))
	}
	defer unix.Close(wake[0])
	defer unix.Close(wake[1])
	poke := func() { _, _ = unix.Write(wake[1], []byte{0}) }

	stop := context.AfterFunc(ctx, poke)
	defer stop()

	var checker *liveness.Checker
	var markerGone atomic.Bool
	if a.cfg.AliveFile != "" {
		checker = liveness.NewChecker(a.cfg.AliveFile, a.cfg.StaleAfter, a.clock)
		if err := checker.Check(); err != nil {
			return exitErr(ExitStale, err)
		}
		w, werr := liveness.Watch(a.cfg.AliveFile, func() {
			markerGone.Store(true)
			poke()
		}, func(err error) {
			a.log.Warn("marker watch error", zap.Error(err))
		})
		if werr != nil {
			// Polling still covers staleness.
			a.log.Warn("marker watch unavailable", zap.Error(werr))
		} else {
			defer w.Close()
		}
	}

	return a.relay(ctx, dev, wake[0], checker, &markerGone)
}

func (a *Agent) relay(ctx context.Context, dev Device, wakeFd int, checker *liveness.Checker, markerGone *atomic.Bool) error {
	outFd := int(a.out.Fd())
	buf := make([]byte, a.cfg.RecordSize)
	drain := make([]byte, 64)
	lastCheck := a.clock.Now()

	for {
		timeout := a.cfg.PollInterval - a.clock.Now().Sub(lastCheck)
		if timeout < 0 {
			timeout = 0
		}
		fds := []unix.PollFd{
			{Fd: int32(dev.Fd()), Events: unix.POLLIN},
			{Fd: int32(wakeFd), Events: unix.POLLIN},
			// No requested events: POLLERR/POLLHUP are always reported, so
			// a consumer that goes away is noticed even while idle.
			{Fd: int32(outFd), Events: 0},
		}
		_, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return exitErr(ExitIO, fmt.Errorf("poll: %w", err))
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			for {
				if n, _ := unix.Read(wakeFd, drain); n <= 0 {
					break
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			if markerGone.Load() {
				return exitErr(ExitStale, &liveness.TimeoutError{Path: a.cfg.AliveFile, Missing: true})
			}
		}

		if fds[2].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return exitErr(ExitConsumerGone, errors.New("output hung up"))
		}

		if checker != nil && a.clock.Now().Sub(lastCheck) >= a.cfg.PollInterval {
			lastCheck = a.clock.Now()
			if err := checker.Check(); err != nil {
				return exitErr(ExitStale, err)
			}
		} else if checker == nil {
			lastCheck = a.clock.Now()
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			if err := readRecord(dev, buf); err != nil {
				return exitErr(ExitIO, err)
			}
			if err := writeAll(outFd, buf); err != nil {
				return exitErr(ExitConsumerGone, err)
			}
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return exitErr(ExitIO, fmt.Errorf("device %s hung up", a.cfg.DevicePath))
		}
	}
}

// readRecord fills buf with exactly one record. evdev returns whole records
// per read; the loop only matters for stream-backed devices.
func readRecord(dev Device, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := dev.Read(buf[got:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("device closed after %d of %d bytes", got, len(buf))
		}
		got += n
	}
	return nil
}

func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}
