package device

import (
	"testing"

	"github.com/alvesvaren/rm-pad/internal/evdev"
)

func TestFromModel(t *testing.T) {
	tests := []struct {
		model   string
		want    string
		wantErr bool
	}{
		{"reMarkable 2.0\x00", RM2.Name, false},
		{"reMarkable Ferrari\n", RMPP.Name, false},
		{"reMarkable 1.0", "", true},
		{"  ", "", true},
	}
	for _, tt := range tests {
		p, err := FromModel(tt.model)
		if (err != nil) != tt.wantErr {
			t.Fatalf("FromModel(%q) err = %v", tt.model, err)
		}
		if p.Name != tt.want {
			t.Errorf("FromModel(%q) = %q, want %q", tt.model, p.Name, tt.want)
		}
	}
}

func TestProfileLayoutMatchesArch(t *testing.T) {
	for _, p := range []Profile{RM2, RMPP} {
		l, err := evdev.LayoutForArch(p.Arch)
		if err != nil {
			t.Fatal(err)
		}
		if l != p.Layout {
			t.Errorf("%s: layout %v does not match arch %s", p.Name, p.Layout, p.Arch)
		}
	}
	if RM2.NodeFor(evdev.Touch) != "/dev/input/event2" {
		t.Errorf("rm2 touch node = %s", RM2.NodeFor(evdev.Touch))
	}
}
