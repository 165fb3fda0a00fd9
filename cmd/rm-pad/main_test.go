package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/alvesvaren/rm-pad/internal/agentbin"
	"github.com/alvesvaren/rm-pad/internal/config"
	"github.com/alvesvaren/rm-pad/internal/device"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/orientation"
	"github.com/alvesvaren/rm-pad/internal/publish"
	"github.com/alvesvaren/rm-pad/internal/transport/transporttest"
)

const ppDevices = `I: Bus=0018 Vendor=2d1f Product=0095 Version=0100
N: Name="Elan marker input"
H: Handlers=event2
B: EV=b

I: Bus=0018 Vendor=04f3 Product=2b2b Version=0100
N: Name="Elan touch input"
H: Handlers=event3
B: EV=b

I: Bus=0019 Vendor=0001 Product=0001 Version=0100
N: Name="gpio-keys"
H: Handlers=kbd event0
`

func paperPro(cmd string, stdin []byte) ([]byte, error) {
	switch cmd {
	case "uname -m":
		return []byte("aarch64\n"), nil
	case "cat /proc/device-tree/model":
		return []byte("reMarkable Ferrari\x00"), nil
	case "cat /proc/bus/input/devices":
		return []byte(ppDevices), nil
	}
	return nil, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, agentbin.FileName("aarch64")), []byte("agent"), 0o755); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Orientation: orientation.Portrait,
		Agent:       config.Agent{LocalDir: dir, RemotePath: "/tmp/rm-pad-grab"},
	}
}

func TestDumpStreamsWithoutGrabbing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := testConfig(t)
	d := transporttest.NewDialer(paperPro)

	started := make(chan *transporttest.Proc, 1)
	go func() {
		p := <-d.Started()
		started <- p
		var buf []byte
		buf = evdev.Layout64.Append(buf, evdev.Event{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: 1200, Sec: 5, Usec: 42})
		buf = evdev.Layout64.Append(buf, evdev.Event{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT, Sec: 5, Usec: 42})
		if err := p.Write(buf); err != nil {
			t.Error(err)
		}
		p.Exit(0)
	}()

	var out bytes.Buffer
	if err := dump(ctx, d, cfg, "pen", &out, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	p := <-started
	if !p.HasArg("--no-grab") || p.HasArg("--alive-file") {
		t.Errorf("agent command = %q", p.Cmd)
	}
	if !p.HasArg(device.RMPP.PenDevice) {
		t.Errorf("agent not started on the profile's pen node: %q", p.Cmd)
	}
	for _, want := range []string{"5.000042  ABS_X(0)", "1200", "SYN_REPORT"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
	if !d.Last().Closed() {
		t.Error("connection left open")
	}
}

func TestDumpRejectsUnknownDevice(t *testing.T) {
	d := transporttest.NewDialer(paperPro)
	err := dump(context.Background(), d, testConfig(t), "eraser", &bytes.Buffer{}, zaptest.NewLogger(t))
	if err == nil || d.Dials() != 0 {
		t.Fatalf("err = %v, dials = %d", err, d.Dials())
	}
}

func TestDevices(t *testing.T) {
	d := transporttest.NewDialer(paperPro)
	var out bytes.Buffer
	if err := devices(context.Background(), d, testConfig(t), &out, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"Elan marker input",
		"/dev/input/event0",
		"profile reMarkable Paper Pro",
		"pen   default /dev/input/event2, auto /dev/input/event2",
		"touch default /dev/input/event3, auto /dev/input/event3",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
}

func TestPipelineKeepsEngineAcrossReconnects(t *testing.T) {
	cfg := testConfig(t)
	cfg.PalmRejection = true
	cfg.PalmGrace = 500 * time.Millisecond
	p := newPipeline(cfg, zaptest.NewLogger(t), nil)
	defer p.Close()

	e1, err := p.engineFor(device.RMPP)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := p.engineFor(device.RMPP)
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Error("same model got a new engine")
	}
	e3, err := p.engineFor(device.RM2)
	if err != nil {
		t.Fatal(err)
	}
	if e3 == e1 {
		t.Error("model change kept the old engine")
	}
	if err := p.PublishStatus(publish.Status{State: "active"}); err != nil {
		t.Fatal(err)
	}
}
