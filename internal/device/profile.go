// Package device describes the supported tablet models: their input_event
// layout, digitizer ranges and default input node paths.
package device

import (
	"fmt"
	"strings"

	"github.com/alvesvaren/rm-pad/internal/evdev"
)

// Profile holds the device-specific parameters for input handling.
type Profile struct {
	Name string
	Arch string // `uname -m` of the tablet

	Layout evdev.Layout

	PenXMax        int32
	PenYMax        int32
	PenPressureMax int32
	PenDistanceMax int32
	PenTiltRange   int32

	TouchXMax       int32
	TouchYMax       int32
	TouchResolution int32

	PenDevice   string
	TouchDevice string
}

// RM2 is the reMarkable 2. Touch screen: 1872x1404 display, ~210x158 mm,
// about 9 units/mm.
var RM2 = Profile{
	Name:   "reMarkable 2",
	Arch:   "armv7l",
	Layout: evdev.Layout32,

	PenXMax:        20967,
	PenYMax:        15725,
	PenPressureMax: 4095,
	PenDistanceMax: 255,
	PenTiltRange:   6400,

	TouchXMax:       1403,
	TouchYMax:       1871,
	TouchResolution: 9,

	PenDevice:   "/dev/input/event1",
	TouchDevice: "/dev/input/event2",
}

// RMPP is the reMarkable Paper Pro (1620x2160, aarch64).
var RMPP = Profile{
	Name:   "reMarkable Paper Pro",
	Arch:   "aarch64",
	Layout: evdev.Layout64,

	PenXMax:        11180,
	PenYMax:        15340,
	PenPressureMax: 4096,
	PenDistanceMax: 65535,
	PenTiltRange:   9000,

	TouchXMax:       2064,
	TouchYMax:       2832,
	TouchResolution: 9,

	PenDevice:   "/dev/input/event2",
	TouchDevice: "/dev/input/event3",
}

// FromModel maps the contents of /proc/device-tree/model to a profile.
func FromModel(model string) (Profile, error) {
	model = strings.Trim(strings.TrimSpace(model), "\x00")
	if model == "" {
		return Profile{}, fmt.Errorf("device model is empty")
	}
	// Paper Pro first; it is the more specific match.
	if strings.Contains(model, "reMarkable Ferrari") {
		return RMPP, nil
	}
	if strings.Contains(model, "reMarkable 2.0") {
		return RM2, nil
	}
	return Profile{}, fmt.Errorf("unsupported device model %q", model)
}

// NodeFor returns the default input node for src.
func (p Profile) NodeFor(src evdev.Source) string {
	if src == evdev.Pen {
		return p.PenDevice
	}
	return p.TouchDevice
}

// MTSlots is the number of multi-touch slots forwarded to the host.
const MTSlots = 16
