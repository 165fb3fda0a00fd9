package publish

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/device"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/orientation"
	"github.com/alvesvaren/rm-pad/internal/uinput"
)

const (
	PenDeviceName   = "reMarkable Pen"
	TouchDeviceName = "reMarkable Touch"
)

// PenSpec describes the virtual pen for a profile in orientation o.
func PenSpec(p device.Profile, o orientation.Orientation) uinput.Spec {
	out := o.Pen().Bounds(orientation.Bounds{XMax: p.PenXMax, YMax: p.PenYMax})
	return uinput.Spec{
		Name:  PenDeviceName,
		ID:    uinput.InputID{Bustype: 0x03, Vendor: 0x2d1f, Product: 0x0001},
		Props: []uint16{evdev.INPUT_PROP_DIRECT},
		Keys:  []uint16{evdev.BTN_TOOL_PEN, evdev.BTN_TOOL_RUBBER, evdev.BTN_TOUCH, evdev.BTN_STYLUS, evdev.BTN_STYLUS2},
		Abs: []uinput.AbsAxis{
			{Code: evdev.ABS_X, Max: out.XMax, Resolution: 100},
			{Code: evdev.ABS_Y, Max: out.YMax, Resolution: 100},
			{Code: evdev.ABS_PRESSURE, Max: p.PenPressureMax},
			{Code: evdev.ABS_DISTANCE, Max: p.PenDistanceMax},
			{Code: evdev.ABS_TILT_X, Min: -p.PenTiltRange, Max: p.PenTiltRange},
			{Code: evdev.ABS_TILT_Y, Min: -p.PenTiltRange, Max: p.PenTiltRange},
		},
	}
}

// TouchSpec describes the virtual touchpad for a profile in orientation o.
func TouchSpec(p device.Profile, o orientation.Orientation) uinput.Spec {
	out := o.Touch().Bounds(orientation.Bounds{XMax: p.TouchXMax, YMax: p.TouchYMax})
	res := p.TouchResolution
	return uinput.Spec{
		Name:  TouchDeviceName,
		ID:    uinput.InputID{Bustype: 0x03, Vendor: 0x2d1f, Product: 0x0002},
		Props: []uint16{evdev.INPUT_PROP_POINTER, evdev.INPUT_PROP_BUTTONPAD},
		Keys: []uint16{
			evdev.BTN_LEFT, evdev.BTN_TOUCH, evdev.BTN_TOOL_FINGER,
			evdev.BTN_TOOL_DOUBLETAP, evdev.BTN_TOOL_TRIPLETAP, evdev.BTN_TOOL_QUADTAP,
		},
		Abs: []uinput.AbsAxis{
			{Code: evdev.ABS_X, Max: out.XMax, Resolution: res},
			{Code: evdev.ABS_Y, Max: out.YMax, Resolution: res},
			{Code: evdev.ABS_MT_SLOT, Max: device.MTSlots - 1},
			{Code: evdev.ABS_MT_TRACKING_ID, Min: -1, Max: math.MaxInt32},
			{Code: evdev.ABS_MT_POSITION_X, Max: out.XMax, Resolution: res},
			{Code: evdev.ABS_MT_POSITION_Y, Max: out.YMax, Resolution: res},
		},
	}
}

// UinputSink exposes the pen and touch streams as kernel input devices.
// The devices are created once and outlive reconnects, so applications on
// the host keep the same device across tablet link drops.
type UinputSink struct {
	pen   *uinput.Device
	touch *uinput.Device
}

// NewUinputSink creates the enabled devices.
func NewUinputSink(path string, p device.Profile, o orientation.Orientation, pen, touch bool, log *zap.Logger) (*UinputSink, error) {
	s := &UinputSink{}
	if pen {
		d, err := uinput.Create(path, PenSpec(p, o))
		if err != nil {
			return nil, err
		}
		s.pen = d
		logCreated(log, d)
	}
	if touch {
		d, err := uinput.Create(path, TouchSpec(p, o))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.touch = d
		logCreated(log, d)
	}
	return s, nil
}

func logCreated(log *zap.Logger, d *uinput.Device) {
	name, err := d.Sysname()
	if err != nil {
		log.Info("virtual device ready", zap.String("name", d.Name()))
		return
	}
	log.Info("virtual device ready", zap.String("name", d.Name()), zap.String("sysfs", "/sys/devices/virtual/input/"+name))
}

func (s *UinputSink) Publish(ev Event) error {
	d := s.touch
	if ev.Source == evdev.Pen {
		d = s.pen
	}
	if d == nil {
		return fmt.Errorf("no virtual %s device", ev.Source)
	}
	return d.Emit(ev.Type, ev.Code, ev.Value)
}

func (s *UinputSink) Close() error {
	var result *multierror.Error
	for _, d := range []*uinput.Device{s.pen, s.touch} {
		if d != nil {
			if err := d.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
