package evdev

// Input device selection helpers.
//
// On reMarkable tablets the pen and touch digitizers appear as
// /dev/input/eventX. The host reads the tablet's /proc/bus/input/devices
// over the transport and picks nodes by name when the configuration says
// "auto".

import (
	"errors"
	"sort"
	"strings"
)

// DeviceInfo is one block of /proc/bus/input/devices.
type DeviceInfo struct {
	Name     string
	Handlers []string
}

// EventNode returns the /dev/input path of the first eventN handler, or ""
// when the device has none.
func (d DeviceInfo) EventNode() string {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return "/dev/input/" + h
		}
	}
	return ""
}

// ParseProcDevices parses the contents of /proc/bus/input/devices.
func ParseProcDevices(data string) []DeviceInfo {
	blocks := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n\n")
	var out []DeviceInfo
	for _, blk := range blocks {
		info := DeviceInfo{}
		for _, line := range strings.Split(blk, "\n") {
			if strings.HasPrefix(line, "N: Name=") {
				parts := strings.SplitN(line, "=", 2)
				if len(parts) == 2 {
					info.Name = strings.Trim(parts[1], " \"")
				}
			}
			if strings.HasPrefix(line, "H: Handlers=") {
				parts := strings.SplitN(line, "=", 2)
				if len(parts) == 2 {
					info.Handlers = strings.Fields(parts[1])
				}
			}
		}
		if info.Name != "" || len(info.Handlers) > 0 {
			out = append(out, info)
		}
	}
	return out
}

// ErrNoDevice is returned when no listed device looks like the requested kind.
var ErrNoDevice = errors.New("no matching input device")

// PickNode chooses the event node that best matches src by name.
func PickNode(devices []DeviceInfo, src Source) (string, error) {
	type candidate struct {
		path  string
		score int
	}
	var cands []candidate
	for _, d := range devices {
		path := d.EventNode()
		if path == "" {
			continue
		}
		if s := nameScore(d.Name, src); s > 0 {
			cands = append(cands, candidate{path, s})
		}
	}
	if len(cands) == 0 {
		return "", ErrNoDevice
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	return cands[0].path, nil
}

func nameScore(name string, src Source) int {
	ln := strings.ToLower(name)
	score := 0
	switch src {
	case Pen:
		if strings.Contains(ln, "stylus") || strings.Contains(ln, "wacom") || strings.Contains(ln, "pen") || strings.Contains(ln, "marker") {
			score += 10
		}
		if strings.Contains(ln, "touch") {
			score -= 5
		}
	case Touch:
		if strings.Contains(ln, "touch") || strings.Contains(ln, "cyttsp") || strings.Contains(ln, "pt_mt") {
			score += 10
		}
		if strings.Contains(ln, "stylus") || strings.Contains(ln, "wacom") || strings.Contains(ln, "pen") {
			score -= 5
		}
	}
	return score
}
