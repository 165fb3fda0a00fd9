package agent

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/alvesvaren/rm-pad/internal/evdev"
)

// Device is an input node the agent can capture and read.
type Device interface {
	Fd() int
	Read(p []byte) (int, error)
	Grab() error
	Release() error
	Close() error
}

type evdevDevice struct {
	path string
	fd   int
}

// OpenDevice opens an evdev node read-only. The fd stays in blocking mode;
// the relay loop only reads after poll reports it readable.
func OpenDevice(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &evdevDevice{path: path, fd: fd}, nil
}

func (d *evdevDevice) Fd() int { return d.fd }

func (d *evdevDevice) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", d.path, err)
		}
		return n, nil
	}
}

func (d *evdevDevice) Grab() error {
	if err := evdev.Grab(d.fd, true); err != nil {
		return fmt.Errorf("EVIOCGRAB %s: %w", d.path, err)
	}
	return nil
}

func (d *evdevDevice) Release() error {
	if err := evdev.Grab(d.fd, false); err != nil {
		return fmt.Errorf("EVIOCGRAB release %s: %w", d.path, err)
	}
	return nil
}

func (d *evdevDevice) Close() error {
	return unix.Close(d.fd)
}

// AbsReader is implemented by devices that can report their axis ranges.
type AbsReader interface {
	AbsInfo(code int) (evdev.AbsInfo, error)
}

func (d *evdevDevice) AbsInfo(code int) (evdev.AbsInfo, error) {
	return evdev.GetAbsInfo(d.fd, code)
}

// AbsRanges reads the axis ranges of d for diagnostics. Axes the device
// lacks are omitted; a device that cannot report ranges gives nil.
func AbsRanges(d Device) map[string]evdev.AbsInfo {
	r, ok := d.(AbsReader)
	if !ok {
		return nil
	}
	out := make(map[string]evdev.AbsInfo)
	for name, code := range map[string]int{
		"x":           evdev.ABS_X,
		"y":           evdev.ABS_Y,
		"pressure":    evdev.ABS_PRESSURE,
		"mt_x":        evdev.ABS_MT_POSITION_X,
		"mt_y":        evdev.ABS_MT_POSITION_Y,
		"tilt_x":      evdev.ABS_TILT_X,
		"tracking_id": evdev.ABS_MT_TRACKING_ID,
	} {
		if info, err := r.AbsInfo(code); err == nil {
			out[name] = info
		}
	}
	return out
}
