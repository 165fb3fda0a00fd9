// Package publish is the Virtual Device Publisher: it hands fused,
// orientation-corrected events to whatever exposes them to the host.
package publish

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/alvesvaren/rm-pad/internal/evdev"
)

// Event is one synthesized input event for a logical device.
type Event struct {
	Source evdev.Source
	Type   uint16
	Code   uint16
	Value  int32
}

// IsSynReport reports whether ev ends a frame.
func (ev Event) IsSynReport() bool {
	return ev.Type == evdev.EV_SYN && ev.Code == evdev.SYN_REPORT
}

// Sink accepts events one at a time, in order per logical device.
type Sink interface {
	Publish(ev Event) error
	Close() error
}

// Multi fans every event out to each sink. A failing sink does not stop
// the others.
type Multi []Sink

func (m Multi) Publish(ev Event) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.Publish(ev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m Multi) Close() error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Recorder keeps everything it is given. It is used by tests and by
// `rm-pad dump`.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Frames splits the recorded events of src into SYN_REPORT-terminated
// frames. A trailing partial frame is dropped.
func (r *Recorder) Frames(src evdev.Source) [][]Event {
	var frames [][]Event
	var cur []Event
	for _, ev := range r.Events() {
		if ev.Source != src {
			continue
		}
		cur = append(cur, ev)
		if ev.IsSynReport() {
			frames = append(frames, cur)
			cur = nil
		}
	}
	return frames
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
