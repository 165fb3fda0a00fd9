// Package provision prepares a freshly connected tablet: it identifies the
// model and architecture, makes sure the right agent binary is installed and
// builds the command lines that launch and reap agents.
package provision

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/agentbin"
	"github.com/alvesvaren/rm-pad/internal/device"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/transport"
)

const DefaultRemotePath = "/tmp/rm-pad-grab"

// Target is what provisioning learned about the tablet.
type Target struct {
	Arch    string
	Model   string
	Profile device.Profile
}

// Provisioner runs provisioning commands over one connection.
type Provisioner struct {
	conn       transport.Conn
	store      *agentbin.Store
	remotePath string
	log        *zap.Logger
}

func New(conn transport.Conn, store *agentbin.Store, remotePath string, log *zap.Logger) *Provisioner {
	if remotePath == "" {
		remotePath = DefaultRemotePath
	}
	return &Provisioner{conn: conn, store: store, remotePath: remotePath, log: log}
}

func (p *Provisioner) RemotePath() string { return p.remotePath }

func (p *Provisioner) output(ctx context.Context, cmd string) (string, error) {
	out, err := p.conn.Run(ctx, cmd, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Detect identifies the tablet. The record layout comes from the
// architecture; the digitizer profile from the device-tree model, falling
// back to the architecture when the model is unreadable.
func (p *Provisioner) Detect(ctx context.Context) (Target, error) {
	arch, err := p.output(ctx, "uname -m")
	if err != nil {
		return Target{}, fmt.Errorf("detect architecture: %w", err)
	}
	layout, err := evdev.LayoutForArch(arch)
	if err != nil {
		return Target{}, err
	}

	model, merr := p.output(ctx, "cat /proc/device-tree/model")
	model = strings.TrimRight(model, "\x00")
	profile, perr := device.FromModel(model)
	if merr != nil || perr != nil {
		profile, err = profileForArch(arch)
		if err != nil {
			return Target{}, err
		}
		p.log.Warn("couldn't identify tablet model, guessing from architecture",
			zap.String("arch", arch), zap.String("model", model), zap.String("profile", profile.Name))
	}
	profile.Arch = arch
	profile.Layout = layout
	return Target{Arch: arch, Model: model, Profile: profile}, nil
}

func profileForArch(arch string) (device.Profile, error) {
	switch arch {
	case "armv7l":
		return device.RM2, nil
	case "aarch64":
		return device.RMPP, nil
	}
	return device.Profile{}, fmt.Errorf("unsupported tablet architecture %q", arch)
}

// EnsureAgent installs the agent for arch unless the remote copy already
// has the same SHA-256.
func (p *Provisioner) EnsureAgent(ctx context.Context, arch string) error {
	bin, err := p.store.Lookup(arch)
	if err != nil {
		return err
	}
	path := transport.Quote(p.remotePath)

	remote, err := p.output(ctx, fmt.Sprintf("sha256sum %s 2>/dev/null | cut -d' ' -f1", path))
	if err != nil {
		if _, ok := transport.ExitStatus(err); !ok {
			return fmt.Errorf("check agent: %w", err)
		}
		remote = ""
	}
	if remote == bin.SHA256 {
		p.log.Debug("agent binary up to date", zap.String("sha256", bin.SHA256[:16]))
		return nil
	}

	p.log.Info("uploading agent",
		zap.String("arch", arch),
		zap.Int("bytes", len(bin.Data)),
		zap.String("path", p.remotePath),
		zap.Bool("replacing", remote != ""))
	if _, err := p.conn.Run(ctx, "rm -f "+path, nil); err != nil {
		return fmt.Errorf("remove stale agent: %w", err)
	}
	// Temp file + rename so a concurrent upload never leaves a torn binary.
	upload := fmt.Sprintf("cat > %[1]s.$$ && chmod +x %[1]s.$$ && mv -f %[1]s.$$ %[1]s", path)
	if _, err := p.conn.Run(ctx, upload, bytes.NewReader(bin.Data)); err != nil {
		return fmt.Errorf("upload agent: %w", err)
	}
	return nil
}

// ListDevices reads the tablet's /proc/bus/input/devices.
func (p *Provisioner) ListDevices(ctx context.Context) ([]evdev.DeviceInfo, error) {
	out, err := p.conn.Run(ctx, "cat /proc/bus/input/devices", nil)
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	return evdev.ParseProcDevices(string(out)), nil
}

// ResolveNode turns a configured node into a path. Empty selects the
// profile default and "auto" picks by device name.
func (p *Provisioner) ResolveNode(ctx context.Context, configured string, src evdev.Source, profile device.Profile) (string, error) {
	switch configured {
	case "":
		return profile.NodeFor(src), nil
	case "auto":
		devs, err := p.ListDevices(ctx)
		if err != nil {
			return "", err
		}
		node, err := evdev.PickNode(devs, src)
		if err != nil {
			return "", fmt.Errorf("%s: %w", src, err)
		}
		p.log.Info("selected input node", zap.Stringer("source", src), zap.String("node", node))
		return node, nil
	}
	return configured, nil
}

// PIDFile is where the agent for src records its pid during one session.
func (p *Provisioner) PIDFile(src evdev.Source, session string) string {
	return fmt.Sprintf("%s.%s.%s.pid", p.remotePath, src, session)
}

// Reap stops agents for src left over from earlier sessions, waiting
// briefly for each to exit so its grab is released before a new agent
// tries to acquire the device.
func (p *Provisioner) Reap(ctx context.Context, src evdev.Source) error {
	glob := transport.Quote(p.remotePath) + "." + src.String() + ".*.pid"
	script := `for f in ` + glob + `; do
  [ -f "$f" ] || continue
  pid=$(cat "$f")
  rm -f "$f"
  [ -n "$pid" ] || continue
  kill -TERM "$pid" 2>/dev/null || continue
  echo "$pid"
  for i in 1 2 3 4 5; do kill -0 "$pid" 2>/dev/null || break; sleep 1; done
done`
	out, err := p.output(ctx, script)
	if err != nil {
		return fmt.Errorf("reap %s agents: %w", src, err)
	}
	if out != "" {
		p.log.Info("reaped previous agents", zap.Stringer("source", src), zap.Strings("pids", strings.Fields(out)))
	}
	return nil
}

// AgentArgs are the agent's command line options.
type AgentArgs struct {
	Device       string
	AliveFile    string
	StaleAfter   time.Duration
	PollInterval time.Duration
	PIDFile      string
	NoGrab       bool
}

// AgentCommand builds the remote command for one agent. exec replaces the
// shell so signals from a closing channel reach the agent itself; stderr is
// appended to a log beside the binary.
func (p *Provisioner) AgentCommand(a AgentArgs) string {
	args := []string{p.remotePath, "--device", a.Device}
	if a.AliveFile != "" {
		args = append(args, "--alive-file", a.AliveFile, "--stale-after", a.StaleAfter.String())
	}
	if a.PollInterval > 0 {
		args = append(args, "--poll-interval", a.PollInterval.String())
	}
	if a.PIDFile != "" {
		args = append(args, "--pidfile", a.PIDFile)
	}
	if a.NoGrab {
		args = append(args, "--no-grab")
	}
	return "exec " + transport.Command(args...) + " 2>>" + transport.Quote(p.remotePath+".log")
}
