// Package orientation maps tablet coordinates into the output coordinate
// space for each of the four supported screen orientations.
//
// The touch panel is natively portrait; the pen digitizer is natively
// landscape (buttons on the right), so the same orientation selects a
// different remap for each device.
package orientation

import (
	"fmt"
	"strings"
)

// Orientation is the screen orientation relative to portrait with the
// buttons at the top.
type Orientation int

const (
	LandscapeRight Orientation = iota // 90° clockwise, the default
	Portrait
	LandscapeLeft
	Inverted
)

var names = map[Orientation]string{
	Portrait:       "portrait",
	LandscapeRight: "landscape-right",
	LandscapeLeft:  "landscape-left",
	Inverted:       "inverted",
}

func (o Orientation) String() string {
	if n, ok := names[o]; ok {
		return n
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// Parse accepts the kebab, snake or squashed spelling of an orientation.
func Parse(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "portrait":
		return Portrait, nil
	case "landscape-right", "landscape_right", "landscaperight":
		return LandscapeRight, nil
	case "landscape-left", "landscape_left", "landscapeleft":
		return LandscapeLeft, nil
	case "inverted":
		return Inverted, nil
	}
	return 0, fmt.Errorf("invalid orientation %q (valid: portrait, landscape-right, landscape-left, inverted)", s)
}

// MarshalText and UnmarshalText let configuration decoders handle the type.
func (o Orientation) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Orientation) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Point is a coordinate pair.
type Point struct{ X, Y int32 }

// Bounds holds the inclusive maximum of each axis; minimums are zero.
type Bounds struct{ XMax, YMax int32 }

// Clamp limits p to b.
func (b Bounds) Clamp(p Point) Point {
	return Point{X: clamp(p.X, 0, b.XMax), Y: clamp(p.Y, 0, b.YMax)}
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Transform is one of the four fixed remaps. It is selected once per
// device and orientation; Apply is pure.
type Transform struct{ kind remap }

type remap uint8

const (
	identity remap = iota
	swap           // (x, y) -> (y, x)
	flip           // (x, y) -> (xmax-x, ymax-y)
	swapFlip       // (x, y) -> (ymax-y, xmax-x)
)

// Touch returns the transform for touch coordinates.
func (o Orientation) Touch() Transform {
	switch o {
	case LandscapeRight:
		return Transform{swap}
	case LandscapeLeft:
		return Transform{swapFlip}
	case Inverted:
		return Transform{flip}
	}
	return Transform{identity}
}

// Pen returns the transform for pen coordinates. LandscapeRight is the
// digitizer's native orientation.
func (o Orientation) Pen() Transform {
	switch o {
	case Portrait:
		return Transform{swap}
	case LandscapeLeft:
		return Transform{flip}
	case Inverted:
		return Transform{swapFlip}
	}
	return Transform{identity}
}

// Tilt transforms pen tilt, which follows the pen remap without offsets.
func (o Orientation) Tilt(tx, ty int32) (int32, int32) {
	switch o {
	case Portrait:
		return ty, tx
	case LandscapeLeft:
		return -tx, -ty
	case Inverted:
		return -ty, -tx
	}
	return tx, ty
}

// Apply maps p, which must lie within in, into the output space.
func (t Transform) Apply(p Point, in Bounds) Point {
	switch t.kind {
	case swap:
		return Point{X: p.Y, Y: p.X}
	case flip:
		return Point{X: in.XMax - p.X, Y: in.YMax - p.Y}
	case swapFlip:
		return Point{X: in.YMax - p.Y, Y: in.XMax - p.X}
	}
	return p
}

// Bounds returns the output space for an input space of in.
func (t Transform) Bounds(in Bounds) Bounds {
	if t.kind == swap || t.kind == swapFlip {
		return Bounds{XMax: in.YMax, YMax: in.XMax}
	}
	return in
}

// SwapsAxes reports whether output X is driven by input Y.
func (t Transform) SwapsAxes() bool {
	return t.kind == swap || t.kind == swapFlip
}
