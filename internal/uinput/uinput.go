// Package uinput creates virtual input devices through /dev/uinput.
//
// A Device is described once with a Spec (keys, absolute axes with ranges,
// properties), created, and then fed events. Events are buffered until
// SYN_REPORT and written to the kernel in one write per frame.
package uinput

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/alvesvaren/rm-pad/internal/evdev"
)

const DefaultPath = "/dev/uinput"

const maxNameSize = 80

const busVirtual = 0x06

// ioctl numbers from linux/uinput.h.
var (
	uiDevCreate  = evdev.IOC(evdev.IocNone, 'U', 1, 0)
	uiDevDestroy = evdev.IOC(evdev.IocNone, 'U', 2, 0)
	uiDevSetup   = evdev.IOC(evdev.IocWrite, 'U', 3, uint32(unsafe.Sizeof(uinputSetup{})))
	uiAbsSetup   = evdev.IOC(evdev.IocWrite, 'U', 4, uint32(unsafe.Sizeof(uinputAbsSetup{})))
	uiSetEvBit   = evdev.IOC(evdev.IocWrite, 'U', 100, 4)
	uiSetKeyBit  = evdev.IOC(evdev.IocWrite, 'U', 101, 4)
	uiSetAbsBit  = evdev.IOC(evdev.IocWrite, 'U', 103, 4)
	uiSetPropBit = evdev.IOC(evdev.IocWrite, 'U', 110, 4)
	uiGetSysname = evdev.IOC(evdev.IocRead, 'U', 44, sysnameSize)
	sysnameSize  = uint32(64)
)

// InputID mirrors struct input_id.
type InputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// struct uinput_setup
type uinputSetup struct {
	ID           InputID
	Name         [maxNameSize]byte
	FFEffectsMax uint32
}

// struct uinput_abs_setup
type uinputAbsSetup struct {
	Code uint16
	_    uint16
	Info evdev.AbsInfo
}

// AbsAxis declares one absolute axis.
type AbsAxis struct {
	Code       uint16
	Min, Max   int32
	Resolution int32
}

// Spec describes a device to create.
type Spec struct {
	Name  string
	ID    InputID
	Props []uint16
	Keys  []uint16
	Abs   []AbsAxis
}

func (s Spec) validate() error {
	if s.Name == "" {
		return errors.New("uinput: device name is empty")
	}
	if len(s.Name) >= maxNameSize {
		return fmt.Errorf("uinput: device name %q longer than %d bytes", s.Name, maxNameSize-1)
	}
	for _, a := range s.Abs {
		if a.Code > evdev.ABS_MAX {
			return fmt.Errorf("uinput: abs code 0x%x out of range", a.Code)
		}
		if a.Min > a.Max {
			return fmt.Errorf("uinput: abs 0x%x has min %d > max %d", a.Code, a.Min, a.Max)
		}
	}
	return nil
}

// Device is a created virtual device.
type Device struct {
	name   string
	w      io.WriteCloser
	fd     int // -1 when not backed by /dev/uinput
	layout evdev.Layout

	mu  sync.Mutex
	buf []byte
}

// Create registers spec with the kernel through the uinput node at path.
func Create(path string, spec Spec) (*Device, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd := int(f.Fd())
	if err := setup(fd, spec); err != nil {
		f.Close()
		return nil, fmt.Errorf("create %q: %w", spec.Name, err)
	}
	return &Device{name: spec.Name, w: f, fd: fd, layout: evdev.NativeLayout()}, nil
}

func setup(fd int, spec Spec) error {
	if len(spec.Keys) > 0 {
		if err := ioctl(fd, uiSetEvBit, evdev.EV_KEY); err != nil {
			return fmt.Errorf("UI_SET_EVBIT EV_KEY: %w", err)
		}
		for _, k := range spec.Keys {
			if err := ioctl(fd, uiSetKeyBit, uintptr(k)); err != nil {
				return fmt.Errorf("UI_SET_KEYBIT 0x%x: %w", k, err)
			}
		}
	}
	if len(spec.Abs) > 0 {
		if err := ioctl(fd, uiSetEvBit, evdev.EV_ABS); err != nil {
			return fmt.Errorf("UI_SET_EVBIT EV_ABS: %w", err)
		}
		for _, a := range spec.Abs {
			if err := ioctl(fd, uiSetAbsBit, uintptr(a.Code)); err != nil {
				return fmt.Errorf("UI_SET_ABSBIT 0x%x: %w", a.Code, err)
			}
			abs := uinputAbsSetup{Code: a.Code, Info: evdev.AbsInfo{Min: a.Min, Max: a.Max, Resolution: a.Resolution}}
			if err := ioctl(fd, uiAbsSetup, uintptr(unsafe.Pointer(&abs))); err != nil {
				return fmt.Errorf("UI_ABS_SETUP 0x%x: %w", a.Code, err)
			}
		}
	}
	for _, p := range spec.Props {
		if err := ioctl(fd, uiSetPropBit, uintptr(p)); err != nil {
			return fmt.Errorf("UI_SET_PROPBIT 0x%x: %w", p, err)
		}
	}

	s := uinputSetup{ID: spec.ID}
	if s.ID.Bustype == 0 {
		s.ID.Bustype = busVirtual
	}
	copy(s.Name[:], spec.Name)
	if err := ioctl(fd, uiDevSetup, uintptr(unsafe.Pointer(&s))); err != nil {
		return fmt.Errorf("UI_DEV_SETUP: %w", err)
	}
	if err := ioctl(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

func ioctl(fd int, req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *Device) Name() string { return d.name }

// Sysname returns the device's name under /sys/devices/virtual/input.
func (d *Device) Sysname() (string, error) {
	if d.fd < 0 {
		return "", errors.New("uinput: no kernel device")
	}
	buf := make([]byte, sysnameSize)
	if err := ioctl(d.fd, uiGetSysname, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// Emit queues one event. SYN_REPORT flushes the frame to the kernel.
func (d *Device) Emit(typ, code uint16, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.layout.Append(d.buf, evdev.Event{Type: typ, Code: code, Value: value})
	if typ != evdev.EV_SYN || code != evdev.SYN_REPORT {
		return nil
	}
	_, err := d.w.Write(d.buf)
	d.buf = d.buf[:0]
	if err != nil {
		return fmt.Errorf("write %q: %w", d.name, err)
	}
	return nil
}

// Close destroys the virtual device.
func (d *Device) Close() error {
	if d.fd >= 0 {
		_ = ioctl(d.fd, uiDevDestroy, 0)
	}
	return d.w.Close()
}
