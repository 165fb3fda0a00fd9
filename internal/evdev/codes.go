// Package evdev holds the Linux input plumbing shared by the grab agent and
// the host:
//   - constants for the event codes the tablets emit
//   - ioctl request encoding for EVIOCGRAB
//   - fixed-size input_event records (16 bytes on 32-bit, 24 bytes on 64-bit)
//   - /proc/bus/input/devices parsing for node selection
package evdev

// Event types.
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_ABS = 0x03
)

// SYN codes.
const (
	SYN_REPORT  = 0x00
	SYN_DROPPED = 0x03
)

// Keys (stylus tools and touch contact counts).
const (
	BTN_LEFT           = 0x110
	BTN_TOOL_PEN       = 0x140
	BTN_TOOL_RUBBER    = 0x141
	BTN_TOOL_FINGER    = 0x145
	BTN_TOOL_QUINTTAP  = 0x148
	BTN_TOUCH          = 0x14a
	BTN_STYLUS         = 0x14b
	BTN_STYLUS2        = 0x14c
	BTN_TOOL_DOUBLETAP = 0x14d
	BTN_TOOL_TRIPLETAP = 0x14e
	BTN_TOOL_QUADTAP   = 0x14f
)

// ABS axes.
const (
	ABS_X              = 0x00
	ABS_Y              = 0x01
	ABS_PRESSURE       = 0x18
	ABS_DISTANCE       = 0x19
	ABS_TILT_X         = 0x1a
	ABS_TILT_Y         = 0x1b
	ABS_MT_SLOT        = 0x2f
	ABS_MT_TOUCH_MAJOR = 0x30
	ABS_MT_TOUCH_MINOR = 0x31
	ABS_MT_ORIENTATION = 0x34
	ABS_MT_POSITION_X  = 0x35
	ABS_MT_POSITION_Y  = 0x36
	ABS_MT_TOOL_TYPE   = 0x37
	ABS_MT_TRACKING_ID = 0x39
	ABS_MT_PRESSURE    = 0x3a
	ABS_MAX            = 0x3f
	ABS_CNT            = ABS_MAX + 1
)

// Input properties.
const (
	INPUT_PROP_POINTER   = 0x00
	INPUT_PROP_DIRECT    = 0x01
	INPUT_PROP_BUTTONPAD = 0x02
)

// TrackingLift is the ABS_MT_TRACKING_ID value that ends a contact.
const TrackingLift = -1
