package evdev

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func corpus(src Source) []Event {
	return []Event{
		{Source: src, Type: EV_ABS, Code: ABS_X, Value: 20967, Sec: 1700000000, Usec: 999999},
		{Source: src, Type: EV_ABS, Code: ABS_MT_TRACKING_ID, Value: TrackingLift, Sec: 12, Usec: 0},
		{Source: src, Type: EV_KEY, Code: BTN_TOUCH, Value: 1, Sec: 0, Usec: 1},
		{Source: src, Type: EV_SYN, Code: SYN_REPORT, Value: 0, Sec: 2147483647, Usec: 500000},
		{Source: src, Type: 0xffff, Code: 0xffff, Value: -2147483648, Sec: -1, Usec: 123},
	}
}

func TestDecodeInvertsEncode(t *testing.T) {
	for _, layout := range []Layout{Layout32, Layout64} {
		t.Run(layout.String(), func(t *testing.T) {
			for _, want := range corpus(Touch) {
				buf := make([]byte, layout.Size)
				if err := layout.Encode(buf, want); err != nil {
					t.Fatalf("Encode: %v", err)
				}
				got, err := layout.Decode(buf, Touch)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("round trip mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestDecodeKnownBytes(t *testing.T) {
	// 32-bit ARM record: sec=3, usec=7, EV_ABS, ABS_PRESSURE, 4095
	raw := []byte{
		3, 0, 0, 0, 7, 0, 0, 0,
		0x03, 0x00, 0x18, 0x00,
		0xff, 0x0f, 0x00, 0x00,
	}
	got, err := Layout32.Decode(raw, Pen)
	if err != nil {
		t.Fatal(err)
	}
	want := Event{Source: Pen, Type: EV_ABS, Code: ABS_PRESSURE, Value: 4095, Sec: 3, Usec: 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDecodeWrongSize(t *testing.T) {
	_, err := Layout64.Decode(make([]byte, 16), Pen)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if perr.Want != 24 || perr.Got != 16 {
		t.Fatalf("got %+v", perr)
	}
}

func TestStreamDecoder(t *testing.T) {
	events := corpus(Pen)
	var stream []byte
	for _, ev := range events {
		stream = Layout64.Append(stream, ev)
	}

	t.Run("clean end", func(t *testing.T) {
		d := NewStreamDecoder(bytes.NewReader(stream), Layout64, Pen)
		var got []Event
		for {
			ev, err := d.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			got = append(got, ev)
		}
		if diff := cmp.Diff(events, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("partial record", func(t *testing.T) {
		truncated := stream[:len(stream)-5]
		d := NewStreamDecoder(bytes.NewReader(truncated), Layout64, Pen)
		for i := 0; i < len(events)-1; i++ {
			if _, err := d.Next(); err != nil {
				t.Fatalf("record %d: %v", i, err)
			}
		}
		_, err := d.Next()
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("err = %v, want ProtocolError", err)
		}
		if perr.Got != 19 {
			t.Fatalf("Got = %d, want 19", perr.Got)
		}
	})
}

func TestLayoutForArch(t *testing.T) {
	tests := []struct {
		machine string
		want    int
		wantErr bool
	}{
		{"armv7l", 16, false},
		{"aarch64", 24, false},
		{"mips", 0, true},
	}
	for _, tt := range tests {
		l, err := LayoutForArch(tt.machine)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v", tt.machine, err)
		}
		if l.Size != tt.want {
			t.Errorf("%s: size = %d, want %d", tt.machine, l.Size, tt.want)
		}
	}
}

func TestNativeLayout(t *testing.T) {
	if s := NativeLayout().Size; s != 16 && s != 24 {
		t.Fatalf("native size = %d", s)
	}
}
