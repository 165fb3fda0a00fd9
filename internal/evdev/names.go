package evdev

import "fmt"

var absNames = map[uint16]string{
	ABS_X:              "X",
	ABS_Y:              "Y",
	ABS_PRESSURE:       "PRESSURE",
	ABS_DISTANCE:       "DISTANCE",
	ABS_TILT_X:         "TILT_X",
	ABS_TILT_Y:         "TILT_Y",
	ABS_MT_SLOT:        "MT_SLOT",
	ABS_MT_TOUCH_MAJOR: "MT_TOUCH_MAJOR",
	ABS_MT_TOUCH_MINOR: "MT_TOUCH_MINOR",
	ABS_MT_ORIENTATION: "MT_ORIENTATION",
	ABS_MT_POSITION_X:  "MT_POSITION_X",
	ABS_MT_POSITION_Y:  "MT_POSITION_Y",
	ABS_MT_TOOL_TYPE:   "MT_TOOL_TYPE",
	ABS_MT_TRACKING_ID: "MT_TRACKING_ID",
	ABS_MT_PRESSURE:    "MT_PRESSURE",
}

var keyNames = map[uint16]string{
	BTN_TOOL_PEN:       "TOOL_PEN",
	BTN_TOOL_RUBBER:    "TOOL_RUBBER",
	BTN_TOOL_FINGER:    "TOOL_FINGER",
	BTN_TOUCH:          "TOUCH",
	BTN_STYLUS:         "STYLUS",
	BTN_STYLUS2:        "STYLUS2",
	BTN_TOOL_DOUBLETAP: "TOOL_DOUBLETAP",
	BTN_TOOL_TRIPLETAP: "TOOL_TRIPLETAP",
	BTN_TOOL_QUADTAP:   "TOOL_QUADTAP",
}

// CodeName renders an event type/code pair for humans.
func CodeName(typ, code uint16) string {
	switch typ {
	case EV_SYN:
		switch code {
		case SYN_REPORT:
			return "SYN_REPORT"
		case SYN_DROPPED:
			return "SYN_DROPPED"
		}
		return fmt.Sprintf("SYN/%d", code)
	case EV_KEY:
		if n, ok := keyNames[code]; ok {
			return "BTN_" + n
		}
		return fmt.Sprintf("KEY/%d", code)
	case EV_ABS:
		if n, ok := absNames[code]; ok {
			return fmt.Sprintf("ABS_%s(%d)", n, code)
		}
		return fmt.Sprintf("ABS_?(%d)", code)
	}
	return fmt.Sprintf("type%d code%d", typ, code)
}
