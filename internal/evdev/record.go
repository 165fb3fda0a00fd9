package evdev

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Layout describes the native struct input_event of one remote architecture.
// The kernel uses a different struct size depending on the timeval size:
// 32-bit tablets emit 16 byte records, 64-bit tablets emit 24 byte records.
type Layout struct {
	Size int // total record size in bytes
	word int // size of each timeval field
}

var (
	Layout32 = Layout{Size: 16, word: 4}
	Layout64 = Layout{Size: 24, word: 8}
)

// LayoutForSize returns the layout with the given record size.
func LayoutForSize(size int) (Layout, error) {
	switch size {
	case Layout32.Size:
		return Layout32, nil
	case Layout64.Size:
		return Layout64, nil
	}
	return Layout{}, fmt.Errorf("unsupported input_event size %d", size)
}

// LayoutForArch maps `uname -m` output to a layout.
func LayoutForArch(machine string) (Layout, error) {
	switch machine {
	case "armv7l", "armv6l", "i686", "i386":
		return Layout32, nil
	case "aarch64", "arm64", "x86_64":
		return Layout64, nil
	}
	return Layout{}, fmt.Errorf("unsupported architecture %q", machine)
}

// NativeLayout is the layout of the running process. struct input_event is
// two longs of timeval followed by type, code and value.
func NativeLayout() Layout {
	var l long
	layout, _ := LayoutForSize(2*int(unsafe.Sizeof(l)) + 8)
	return layout
}

type long = uintptr

func (l Layout) String() string {
	return fmt.Sprintf("%d-byte input_event", l.Size)
}

// Source names the logical device a record came from.
type Source uint8

const (
	Pen Source = iota
	Touch
)

func (s Source) String() string {
	switch s {
	case Pen:
		return "pen"
	case Touch:
		return "touch"
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// Event is a decoded input_event stamped with its originating device.
type Event struct {
	Source Source
	Type   uint16
	Code   uint16
	Value  int32
	Sec    int64
	Usec   int64
}

// Micros returns the event timestamp in microseconds.
func (e Event) Micros() int64 {
	return e.Sec*1_000_000 + e.Usec
}

// IsSynReport reports whether e terminates an input frame.
func (e Event) IsSynReport() bool {
	return e.Type == EV_SYN && e.Code == SYN_REPORT
}

// Decode parses exactly one record. It is pure: the same bytes always give
// the same event.
func (l Layout) Decode(buf []byte, src Source) (Event, error) {
	if len(buf) != l.Size || l.Size == 0 {
		return Event{}, &ProtocolError{Want: l.Size, Got: len(buf)}
	}
	ev := Event{Source: src}
	w := l.word
	if w == 8 {
		ev.Sec = int64(binary.LittleEndian.Uint64(buf[0:8]))
		ev.Usec = int64(binary.LittleEndian.Uint64(buf[8:16]))
	} else {
		ev.Sec = int64(int32(binary.LittleEndian.Uint32(buf[0:4])))
		ev.Usec = int64(int32(binary.LittleEndian.Uint32(buf[4:8])))
	}
	off := 2 * w
	ev.Type = binary.LittleEndian.Uint16(buf[off : off+2])
	ev.Code = binary.LittleEndian.Uint16(buf[off+2 : off+4])
	ev.Value = int32(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
	return ev, nil
}

// Encode writes ev into buf, which must be l.Size bytes long.
func (l Layout) Encode(buf []byte, ev Event) error {
	if len(buf) != l.Size || l.Size == 0 {
		return &ProtocolError{Want: l.Size, Got: len(buf)}
	}
	w := l.word
	if w == 8 {
		binary.LittleEndian.PutUint64(buf[0:8], uint64(ev.Sec))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(ev.Usec))
	} else {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(ev.Sec)))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(ev.Usec)))
	}
	off := 2 * w
	binary.LittleEndian.PutUint16(buf[off:off+2], ev.Type)
	binary.LittleEndian.PutUint16(buf[off+2:off+4], ev.Code)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(ev.Value))
	return nil
}

// Append encodes ev and appends it to dst.
func (l Layout) Append(dst []byte, ev Event) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, l.Size)...)
	_ = l.Encode(dst[start:], ev)
	return dst
}

// ProtocolError reports a record of the wrong size, typically a partial
// record at end of stream.
type ProtocolError struct {
	Want, Got int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("partial input_event: got %d of %d bytes", e.Got, e.Want)
}
