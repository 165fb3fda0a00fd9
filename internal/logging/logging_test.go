package logging

import "testing"

func TestNewLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", " warn ", "error"} {
		log, err := New(lvl, false)
		if err != nil {
			t.Fatalf("New(%q): %v", lvl, err)
		}
		log.Debug("probe")
	}
	if _, err := New("chatty", true); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
