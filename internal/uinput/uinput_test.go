package uinput

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alvesvaren/rm-pad/internal/evdev"
)

type writes struct {
	bytes.Buffer
	n      int
	closed bool
}

func (w *writes) Write(p []byte) (int, error) {
	w.n++
	return w.Buffer.Write(p)
}

func (w *writes) Close() error {
	w.closed = true
	return nil
}

func TestEmitFlushesPerFrame(t *testing.T) {
	w := &writes{}
	d := &Device{name: "test", w: w, fd: -1, layout: evdev.Layout64}

	d.Emit(evdev.EV_ABS, evdev.ABS_X, 10)
	d.Emit(evdev.EV_ABS, evdev.ABS_Y, 20)
	if w.n != 0 {
		t.Fatalf("wrote before SYN_REPORT")
	}
	if err := d.Emit(evdev.EV_SYN, evdev.SYN_REPORT, 0); err != nil {
		t.Fatal(err)
	}
	if w.n != 1 || w.Len() != 3*evdev.Layout64.Size {
		t.Fatalf("writes=%d bytes=%d", w.n, w.Len())
	}

	ev, err := evdev.Layout64.Decode(w.Bytes()[evdev.Layout64.Size:2*evdev.Layout64.Size], evdev.Pen)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Code != evdev.ABS_Y || ev.Value != 20 {
		t.Fatalf("second event = %+v", ev)
	}

	d.Close()
	if !w.closed {
		t.Fatal("Close did not close the node")
	}
}

func TestSpecValidation(t *testing.T) {
	for _, tc := range []struct {
		spec Spec
		want string
	}{
		{Spec{}, "empty"},
		{Spec{Name: strings.Repeat("x", 80)}, "longer"},
		{Spec{Name: "pen", Abs: []AbsAxis{{Code: evdev.ABS_X, Min: 5, Max: 1}}}, "min"},
		{Spec{Name: "pen", Abs: []AbsAxis{{Code: 0x40}}}, "out of range"},
	} {
		err := tc.spec.validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("validate(%+v) = %v, want %q", tc.spec, err, tc.want)
		}
	}
	if err := (Spec{Name: "reMarkable Pen"}).validate(); err != nil {
		t.Fatal(err)
	}
}

func TestIoctlNumbers(t *testing.T) {
	for name, tc := range map[string]struct{ got, want uintptr }{
		"UI_DEV_CREATE":  {uiDevCreate, 0x5501},
		"UI_DEV_DESTROY": {uiDevDestroy, 0x5502},
		"UI_SET_EVBIT":   {uiSetEvBit, 0x40045564},
		"UI_SET_KEYBIT":  {uiSetKeyBit, 0x40045565},
		"UI_SET_ABSBIT":  {uiSetAbsBit, 0x40045567},
		"UI_SET_PROPBIT": {uiSetPropBit, 0x4004556e},
		"UI_DEV_SETUP":   {uiDevSetup, 0x405c5503},
		"UI_ABS_SETUP":   {uiAbsSetup, 0x401c5504},
	} {
		if tc.got != tc.want {
			t.Errorf("%s = %#x, want %#x", name, tc.got, tc.want)
		}
	}
}
