package fusion

import (
	"math"

	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/device"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/orientation"
)

// TouchSlot is one multi-touch contact in tablet coordinates.
type TouchSlot struct {
	TrackingID int32 // evdev.TrackingLift when free
	X, Y       int32
	Pressure   int32
	Active     bool
}

// published is what the virtual touchpad shows for one slot.
type published struct {
	id   int32 // host tracking id; evdev.TrackingLift when not shown
	x, y int32
}

var toolKeys = [...]uint16{
	evdev.BTN_TOOL_FINGER,
	evdev.BTN_TOOL_DOUBLETAP,
	evdev.BTN_TOOL_TRIPLETAP,
	evdev.BTN_TOOL_QUADTAP,
}

type touchState struct {
	slots    [device.MTSlots]TouchSlot
	cur      int // slot addressed by ABS_MT_SLOT; -1 when out of range
	renewed  [device.MTSlots]bool
	dropping bool

	shown       [device.MTSlots]published
	keysDown    bool
	outSlot     int32
	nextID      int32
	suppressing bool
}

func (t *touchState) reset() {
	nextID := t.nextID
	*t = touchState{nextID: nextID, outSlot: -1}
	for i := range t.slots {
		t.slots[i].TrackingID = evdev.TrackingLift
		t.shown[i].id = evdev.TrackingLift
	}
}

func (t *touchState) activeCount() int {
	n := 0
	for _, s := range t.slots {
		if s.Active {
			n++
		}
	}
	return n
}

func (t *touchState) anyShown() bool {
	for _, p := range t.shown {
		if p.id != evdev.TrackingLift {
			return true
		}
	}
	return t.keysDown
}

func (e *Engine) handleTouch(ev evdev.Event) error {
	t := &e.touch
	if ev.Type == evdev.EV_SYN {
		switch ev.Code {
		case evdev.SYN_DROPPED:
			t.dropping = true
			return nil
		case evdev.SYN_REPORT:
			if t.dropping {
				t.dropping = false
				e.log.Debug("touch frame dropped by kernel buffer overrun")
			}
			return e.flushTouch(ev.Micros())
		}
		return nil
	}
	if t.dropping || ev.Type != evdev.EV_ABS {
		// Device keys are ignored; they are synthesized from slot state.
		return nil
	}

	if ev.Code == evdev.ABS_MT_SLOT {
		t.cur = -1
		if ev.Value >= 0 && ev.Value < device.MTSlots {
			t.cur = int(ev.Value)
		}
		return nil
	}
	if t.cur < 0 {
		return nil
	}
	s := &t.slots[t.cur]
	switch ev.Code {
	case evdev.ABS_MT_TRACKING_ID:
		if ev.Value == evdev.TrackingLift || ev.Value < 0 {
			// Lifts are applied even while suppressed so slots never leak.
			*s = TouchSlot{TrackingID: evdev.TrackingLift}
			t.renewed[t.cur] = false
			return nil
		}
		if s.Active && s.TrackingID != ev.Value {
			t.renewed[t.cur] = true
		}
		s.TrackingID = ev.Value
		s.Active = true
	case evdev.ABS_MT_POSITION_X:
		s.X = ev.Value
		s.Active = true
	case evdev.ABS_MT_POSITION_Y:
		s.Y = ev.Value
		s.Active = true
	case evdev.ABS_MT_PRESSURE:
		s.Pressure = ev.Value
	}
	return nil
}

func (e *Engine) flushTouch(us int64) error {
	t := &e.touch
	e.touchFrames++

	if e.inPalmWindow(us) {
		e.suppressed++
		e.metrics.TouchFrame(true)
		e.debug.Do(func() {
			e.log.Debug("touch frames", zap.Uint64("frames", e.touchFrames), zap.Uint64("palm_suppressed", e.suppressed))
		})
		if t.suppressing {
			return nil
		}
		t.suppressing = true
		return e.cancelTouch()
	}
	t.suppressing = false

	w := emitter{sink: e.sink, src: evdev.Touch}
	primary := -1
	for i := range t.slots {
		s := &t.slots[i]
		shown := &t.shown[i]
		if !s.Active {
			if shown.id != evdev.TrackingLift {
				e.selectSlot(&w, i)
				w.emit(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, evdev.TrackingLift)
				shown.id = evdev.TrackingLift
			}
			continue
		}

		out := e.touchPoint(s.X, s.Y)
		if primary < 0 {
			primary = i
		}
		fresh := shown.id == evdev.TrackingLift || t.renewed[i]
		t.renewed[i] = false
		switch {
		case fresh:
			e.selectSlot(&w, i)
			shown.id = t.allocID()
			w.emit(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, shown.id)
			w.emit(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, out.X)
			w.emit(evdev.EV_ABS, evdev.ABS_MT_POSITION_Y, out.Y)
		case out.X != shown.x || out.Y != shown.y:
			e.selectSlot(&w, i)
			if out.X != shown.x {
				w.emit(evdev.EV_ABS, evdev.ABS_MT_POSITION_X, out.X)
			}
			if out.Y != shown.y {
				w.emit(evdev.EV_ABS, evdev.ABS_MT_POSITION_Y, out.Y)
			}
		}
		shown.x, shown.y = out.X, out.Y
	}

	if primary >= 0 {
		w.emit(evdev.EV_ABS, evdev.ABS_X, t.shown[primary].x)
		w.emit(evdev.EV_ABS, evdev.ABS_Y, t.shown[primary].y)
	}
	e.emitKeys(&w, t.activeCount())

	e.metrics.TouchFrame(false)
	if e.touchFrames-e.suppressed == 1 {
		e.log.Info("touch events flowing")
	}
	e.debug.Do(func() {
		e.log.Debug("touch frames", zap.Uint64("frames", e.touchFrames), zap.Int("contacts", t.activeCount()))
	})
	return w.syn()
}

func (e *Engine) touchPoint(x, y int32) orientation.Point {
	in := e.touchIn.Clamp(orientation.Point{X: x, Y: y})
	return e.touchOut.Clamp(e.touchT.Apply(in, e.touchIn))
}

func (e *Engine) selectSlot(w *emitter, i int) {
	if e.touch.outSlot != int32(i) {
		w.emit(evdev.EV_ABS, evdev.ABS_MT_SLOT, int32(i))
		e.touch.outSlot = int32(i)
	}
}

func (t *touchState) allocID() int32 {
	id := t.nextID
	if t.nextID == math.MaxInt32 {
		t.nextID = 0
	} else {
		t.nextID++
	}
	return id
}

// emitKeys reports BTN_TOUCH and the one tool key matching the number of
// contacts. Every key is sent on every frame.
func (e *Engine) emitKeys(w *emitter, contacts int) {
	w.emit(evdev.EV_KEY, evdev.BTN_TOUCH, boolValue(contacts > 0))
	for i, k := range toolKeys {
		on := contacts == i+1 || (i == len(toolKeys)-1 && contacts > len(toolKeys))
		w.emit(evdev.EV_KEY, k, boolValue(on))
	}
	e.touch.keysDown = contacts > 0
}

// cancelTouch lifts every contact the virtual touchpad shows, in one frame.
// Slot state is left alone so forwarding can resume from it.
func (e *Engine) cancelTouch() error {
	t := &e.touch
	if !t.anyShown() {
		return nil
	}
	w := emitter{sink: e.sink, src: evdev.Touch}
	for i := range t.shown {
		if t.shown[i].id != evdev.TrackingLift {
			e.selectSlot(&w, i)
			w.emit(evdev.EV_ABS, evdev.ABS_MT_TRACKING_ID, evdev.TrackingLift)
			t.shown[i].id = evdev.TrackingLift
		}
	}
	e.emitKeys(&w, 0)
	return w.syn()
}
