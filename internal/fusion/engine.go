// Package fusion merges the pen and touch streams into the events published
// to the virtual devices.
//
// One Engine owns PenState and the TouchSlot mapping. It is driven by a
// single goroutine (Run) reading an ordered channel, so the palm rejection
// decision always sees a consistent view of both devices.
//
// Palm rejection compares tablet timestamps: a touch frame stamped within
// [last pen activity, last pen activity + grace] updates slot state but is
// not forwarded. When forwarding resumes, contacts still down are published
// as fresh contacts at their current positions.
package fusion

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alvesvaren/rm-pad/internal/device"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/metrics"
	"github.com/alvesvaren/rm-pad/internal/orientation"
	"github.com/alvesvaren/rm-pad/internal/publish"
)

// DefaultPalmGrace is how long touch stays suppressed after pen activity.
const DefaultPalmGrace = 500 * time.Millisecond

type Config struct {
	Profile     device.Profile
	Orientation orientation.Orientation

	// PalmRejection enables touch suppression around pen activity. It only
	// makes sense when both devices are forwarded.
	PalmRejection bool
	PalmGrace     time.Duration
}

// Engine is the Fusion & Palm-Rejection Engine. Its methods are not safe
// for concurrent use; feed it from one goroutine.
type Engine struct {
	cfg     Config
	sink    publish.Sink
	log     *zap.Logger
	metrics *metrics.Metrics

	penT     orientation.Transform
	penIn    orientation.Bounds
	penOut   orientation.Bounds
	touchT   orientation.Transform
	touchIn  orientation.Bounds
	touchOut orientation.Bounds

	pen   penState
	touch touchState

	penFrames   uint64
	touchFrames uint64
	suppressed  uint64
	debug       rate.Sometimes
	errLog      rate.Sometimes
}

func New(cfg Config, sink publish.Sink, log *zap.Logger, m *metrics.Metrics) *Engine {
	if cfg.PalmGrace < 0 {
		cfg.PalmGrace = 0
	}
	p := cfg.Profile
	e := &Engine{
		cfg:     cfg,
		sink:    sink,
		log:     log,
		metrics: m,
		penT:    cfg.Orientation.Pen(),
		penIn:   orientation.Bounds{XMax: p.PenXMax, YMax: p.PenYMax},
		touchT:  cfg.Orientation.Touch(),
		touchIn: orientation.Bounds{XMax: p.TouchXMax, YMax: p.TouchYMax},
		debug:   rate.Sometimes{Interval: 10 * time.Second},
		errLog:  rate.Sometimes{Interval: 5 * time.Second},
	}
	e.penOut = e.penT.Bounds(e.penIn)
	e.touchOut = e.touchT.Bounds(e.touchIn)
	e.pen.reset()
	e.touch.reset()
	return e
}

// Pen returns a copy of the current pen state.
func (e *Engine) Pen() PenState { return e.pen.PenState }

// Slots returns a copy of the TouchSlot mapping.
func (e *Engine) Slots() [device.MTSlots]TouchSlot { return e.touch.slots }

// Suppressing reports whether touch is currently held back.
func (e *Engine) Suppressing() bool { return e.touch.suppressing }

// Reset starts a fresh cycle. Anything still down on the virtual devices
// is released first, then pen and slot state are cleared. Call it before
// feeding events from a new connection.
func (e *Engine) Reset() error {
	err := e.releasePen()
	if terr := e.cancelTouch(); err == nil {
		err = terr
	}
	e.pen.reset()
	e.touch.reset()
	return err
}

// Handle processes one decoded event. The error, if any, comes from the
// sink; engine state is updated regardless.
func (e *Engine) Handle(ev evdev.Event) error {
	e.metrics.Event(ev.Source.String())
	if ev.Source == evdev.Pen {
		return e.handlePen(ev)
	}
	return e.handleTouch(ev)
}

// Run feeds events from in until ctx ends or in is closed. Sink failures
// are logged and counted; they do not stop the pipeline.
func (e *Engine) Run(ctx context.Context, in <-chan evdev.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := e.Handle(ev); err != nil {
				e.metrics.PublishFailure(ev.Source.String())
				e.errLog.Do(func() {
					e.log.Warn("publishing failed", zap.Stringer("source", ev.Source), zap.Error(err))
				})
			}
		}
	}
}

// inPalmWindow reports whether a touch frame stamped at us falls inside
// the rejection window.
func (e *Engine) inPalmWindow(us int64) bool {
	if !e.cfg.PalmRejection || !e.pen.hasActivity {
		return false
	}
	last := e.pen.LastActivity
	return us >= last && us <= last+e.cfg.PalmGrace.Microseconds()
}

type emitter struct {
	sink publish.Sink
	src  evdev.Source
	err  error
}

func (w *emitter) emit(typ, code uint16, value int32) {
	if err := w.sink.Publish(publish.Event{Source: w.src, Type: typ, Code: code, Value: value}); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *emitter) syn() error {
	w.emit(evdev.EV_SYN, evdev.SYN_REPORT, 0)
	return w.err
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
