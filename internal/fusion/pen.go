package fusion

import (
	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/orientation"
)

// PenState is the last known pen state in tablet coordinates.
type PenState struct {
	X, Y         int32
	Pressure     int32
	Distance     int32
	TiltX, TiltY int32
	InContact    bool

	// LastActivity is the tablet timestamp (µs) of the last frame with the
	// pen in contact, or of the frame that lifted it.
	LastActivity int64
}

type penState struct {
	PenState
	hasActivity bool

	// Frame under construction.
	xyDirty   bool
	tiltDirty bool
	passthru  [][3]int32 // type, code, value
	dropping  bool

	// What the virtual pen currently shows.
	touchSent bool
	toolSent  bool
}

func (p *penState) reset() {
	*p = penState{passthru: p.passthru[:0]}
}

func (e *Engine) handlePen(ev evdev.Event) error {
	p := &e.pen
	if ev.Type == evdev.EV_SYN {
		switch ev.Code {
		case evdev.SYN_DROPPED:
			p.dropping = true
			return nil
		case evdev.SYN_REPORT:
			if p.dropping {
				p.dropping = false
				p.passthru = p.passthru[:0]
				e.log.Debug("pen frame dropped by kernel buffer overrun")
			}
			return e.flushPen(ev.Micros())
		}
		return nil
	}
	if p.dropping {
		return nil
	}

	switch ev.Type {
	case evdev.EV_ABS:
		switch ev.Code {
		case evdev.ABS_X:
			p.X, p.xyDirty = ev.Value, true
		case evdev.ABS_Y:
			p.Y, p.xyDirty = ev.Value, true
		case evdev.ABS_TILT_X:
			p.TiltX, p.tiltDirty = ev.Value, true
		case evdev.ABS_TILT_Y:
			p.TiltY, p.tiltDirty = ev.Value, true
		case evdev.ABS_PRESSURE:
			p.Pressure = ev.Value
			p.queue(ev)
		case evdev.ABS_DISTANCE:
			p.Distance = ev.Value
			p.queue(ev)
		}
	case evdev.EV_KEY:
		switch ev.Code {
		case evdev.BTN_TOOL_PEN, evdev.BTN_TOOL_RUBBER:
			p.toolSent = ev.Value != 0
			p.queue(ev)
		case evdev.BTN_STYLUS, evdev.BTN_STYLUS2:
			p.queue(ev)
		}
		// BTN_TOUCH is synthesized from pressure.
	}
	return nil
}

func (p *penState) queue(ev evdev.Event) {
	p.passthru = append(p.passthru, [3]int32{int32(ev.Type), int32(ev.Code), ev.Value})
}

func (e *Engine) flushPen(us int64) error {
	p := &e.pen
	w := emitter{sink: e.sink, src: evdev.Pen}

	contact := p.Pressure > 0
	if contact || p.InContact {
		// Contact, and the frame that ends it, both count as activity.
		p.LastActivity = us
		p.hasActivity = true
	}
	p.InContact = contact

	if contact != p.touchSent {
		w.emit(evdev.EV_KEY, evdev.BTN_TOUCH, boolValue(contact))
		p.touchSent = contact
	}
	if p.xyDirty {
		in := e.penIn.Clamp(orientation.Point{X: p.X, Y: p.Y})
		out := e.penOut.Clamp(e.penT.Apply(in, e.penIn))
		w.emit(evdev.EV_ABS, evdev.ABS_X, out.X)
		w.emit(evdev.EV_ABS, evdev.ABS_Y, out.Y)
		p.xyDirty = false
	}
	if p.tiltDirty {
		tx, ty := e.cfg.Orientation.Tilt(p.TiltX, p.TiltY)
		w.emit(evdev.EV_ABS, evdev.ABS_TILT_X, tx)
		w.emit(evdev.EV_ABS, evdev.ABS_TILT_Y, ty)
		p.tiltDirty = false
	}
	for _, q := range p.passthru {
		w.emit(uint16(q[0]), uint16(q[1]), q[2])
	}
	p.passthru = p.passthru[:0]

	e.penFrames++
	e.metrics.PenFrame()
	if e.penFrames == 1 {
		e.log.Info("pen events flowing")
	}
	e.debug.Do(func() {
		e.log.Debug("pen frames forwarded", zap.Uint64("frames", e.penFrames), zap.Bool("contact", contact))
	})
	return w.syn()
}

// releasePen lifts the virtual pen if it is down or in range.
func (e *Engine) releasePen() error {
	p := &e.pen
	if !p.touchSent && !p.toolSent && p.Pressure == 0 {
		return nil
	}
	w := emitter{sink: e.sink, src: evdev.Pen}
	w.emit(evdev.EV_ABS, evdev.ABS_PRESSURE, 0)
	w.emit(evdev.EV_KEY, evdev.BTN_TOUCH, 0)
	w.emit(evdev.EV_KEY, evdev.BTN_TOOL_PEN, 0)
	w.emit(evdev.EV_KEY, evdev.BTN_TOOL_RUBBER, 0)
	p.touchSent, p.toolSent = false, false
	return w.syn()
}
