package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/alvesvaren/rm-pad/internal/orientation"
)

// isolate keeps the user's real config and environment out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, envPrefix) {
			t.Setenv(strings.SplitN(kv, "=", 2)[0], "")
			os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
	return dir
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestDefaults(t *testing.T) {
	isolate(t)
	c, err := Load(flags(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	want := struct {
		Host        string
		Port        int
		Grab, Palm  bool
		Grace       time.Duration
		Orientation orientation.Orientation
		Liveness    Liveness
		Backoff     Backoff
	}{
		Host: DefaultHost, Port: 22, Grab: true, Palm: true,
		Grace:       500 * time.Millisecond,
		Orientation: orientation.LandscapeRight,
		Liveness:    Liveness{Path: "/tmp/rm-pad-alive", Interval: 2 * time.Second, StaleAfter: 8 * time.Second},
		Backoff:     Backoff{Initial: 500 * time.Millisecond, Max: 5 * time.Second, AcquireHoldoff: 30 * time.Second},
	}
	got := want
	got.Host, got.Port, got.Grab, got.Palm = c.Host, c.Port, c.GrabInput, c.PalmRejection
	got.Grace, got.Orientation, got.Liveness, got.Backoff = c.PalmGrace, c.Orientation, c.Liveness, c.Backoff
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}
	if !c.Pen() || !c.Touch() || !c.PalmRejectionActive() {
		t.Fatal("both devices and palm rejection should be on by default")
	}
}

func TestLayering(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "rm-pad.yaml")
	err := os.WriteFile(path, []byte(`
host: 192.168.1.20
orientation: portrait
palm_grace: 250ms
liveness:
  interval: 1s
  stale_after: 4s
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("RMPAD_CONFIG", path)
	t.Setenv("RMPAD_HOST", "remarkable.local")
	t.Setenv("RMPAD_LIVENESS__STALE_AFTER", "6s")

	c, err := Load(flags(t, "--palm-grace", "300ms", "--no-grab", "--port", "2222"))
	if err != nil {
		t.Fatal(err)
	}
	if c.File != path {
		t.Fatalf("file = %q", c.File)
	}
	if c.Host != "remarkable.local" {
		t.Fatalf("environment did not override file: host = %q", c.Host)
	}
	if c.Orientation != orientation.Portrait {
		t.Fatalf("orientation = %s", c.Orientation)
	}
	if c.Liveness.Interval != time.Second || c.Liveness.StaleAfter != 6*time.Second {
		t.Fatalf("liveness = %+v", c.Liveness)
	}
	if c.PalmGrace != 300*time.Millisecond {
		t.Fatalf("flag did not override file: palm_grace = %s", c.PalmGrace)
	}
	if c.GrabInput {
		t.Fatal("--no-grab ignored")
	}
	if c.Port != 2222 {
		t.Fatalf("port = %d", c.Port)
	}
	if !c.PalmRejection {
		t.Fatal("an unset negated flag turned palm rejection off")
	}
}

func TestExplicitMissingFileFails(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(flags(t, "--config", filepath.Join(dir, "nope.yaml"))); err == nil {
		t.Fatal("missing --config file accepted")
	}
}

func TestBadOrientation(t *testing.T) {
	isolate(t)
	if _, err := Load(flags(t, "--orientation", "sideways")); err == nil {
		t.Fatal("invalid orientation accepted")
	}
}

func TestValidate(t *testing.T) {
	isolate(t)
	c, err := Load(flags(t, "--pen-only", "--touch-only", "--stale-after", "1s", "--no-uinput"))
	if err != nil {
		t.Fatal(err)
	}
	err = c.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"mutually exclusive", "liveness.interval", "no sink"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error lacks %q:\n%v", want, err)
		}
	}
}

func TestSingleDeviceDisablesPalmRejection(t *testing.T) {
	isolate(t)
	c, err := Load(flags(t, "--touch-only"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Pen() || !c.Touch() || c.PalmRejectionActive() {
		t.Fatalf("touch-only: pen=%v touch=%v palm=%v", c.Pen(), c.Touch(), c.PalmRejectionActive())
	}
}

func TestWriteYAMLMasksPassword(t *testing.T) {
	isolate(t)
	t.Setenv("RMPAD_PASSWORD", "hunter2")
	c, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := c.WriteYAML(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("password leaked:\n%s", out)
	}
	for _, want := range []string{"host: " + DefaultHost, "stale_after: 8s", "liveness:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if c.Password != "hunter2" {
		t.Fatal("masking changed the loaded password")
	}
}

func TestEnvKey(t *testing.T) {
	for in, want := range map[string]string{
		"RMPAD_HOST":                     "host",
		"RMPAD_PALM_GRACE":               "palm_grace",
		"RMPAD_LIVENESS__INTERVAL":       "liveness.interval",
		"RMPAD_BACKOFF__ACQUIRE_HOLDOFF": "backoff.acquire_holdoff",
	} {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s) = %s, want %s", in, got, want)
		}
	}
}
