package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/agentbin"
	"github.com/alvesvaren/rm-pad/internal/config"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/provision"
	"github.com/alvesvaren/rm-pad/internal/transport"
)

// connect dials the tablet and identifies it.
func connect(ctx context.Context, d transport.Dialer, cfg *config.Config, log *zap.Logger) (transport.Conn, *provision.Provisioner, provision.Target, error) {
	conn, err := d.Dial(ctx)
	if err != nil {
		return nil, nil, provision.Target{}, err
	}
	prov := provision.New(conn, agentbin.NewStore(cfg.Agent.LocalDir), cfg.Agent.RemotePath, log.Named("provision"))
	target, err := prov.Detect(ctx)
	if err != nil {
		conn.Close()
		return nil, nil, provision.Target{}, err
	}
	log.Info("connected",
		zap.String("model", target.Model),
		zap.String("profile", target.Profile.Name),
		zap.Stringer("layout", target.Profile.Layout))
	return conn, prov, target, nil
}

func parseSource(s string) (evdev.Source, error) {
	switch strings.ToLower(s) {
	case "pen":
		return evdev.Pen, nil
	case "touch":
		return evdev.Touch, nil
	}
	return 0, fmt.Errorf("unknown device %q: want pen or touch", s)
}

// dump streams one device without grabbing it and prints every event.
func dump(ctx context.Context, d transport.Dialer, cfg *config.Config, device string, w io.Writer, log *zap.Logger) error {
	src, err := parseSource(device)
	if err != nil {
		return err
	}
	conn, prov, target, err := connect(ctx, d, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := prov.EnsureAgent(ctx, target.Arch); err != nil {
		return err
	}
	configured := cfg.PenDevice
	if src == evdev.Touch {
		configured = cfg.TouchDevice
	}
	node, err := prov.ResolveNode(ctx, configured, src, target.Profile)
	if err != nil {
		return err
	}

	proc, err := conn.Start(ctx, prov.AgentCommand(provision.AgentArgs{
		Device:       node,
		PollInterval: cfg.Agent.PollInterval,
		NoGrab:       true,
	}))
	if err != nil {
		return err
	}
	defer proc.Kill()
	log.Info("dumping", zap.Stringer("source", src), zap.String("node", node))

	dec := evdev.NewStreamDecoder(proc.Stdout(), target.Profile.Layout, src)
	for {
		ev, err := dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return proc.Wait()
			}
			return err
		}
		if _, err := fmt.Fprintf(w, "%d.%06d  %-24s %d\n", ev.Sec, ev.Usec, evdev.CodeName(ev.Type, ev.Code), ev.Value); err != nil {
			return err
		}
		if ev.IsSynReport() {
			fmt.Fprintln(w)
		}
	}
}

// devices prints the tablet's input devices and which node auto-selection
// would pick for each source.
func devices(ctx context.Context, d transport.Dialer, cfg *config.Config, w io.Writer, log *zap.Logger) error {
	conn, prov, target, err := connect(ctx, d, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	devs, err := prov.ListDevices(ctx)
	if err != nil {
		return err
	}
	printDevices(w, target, devs)
	return nil
}

func printDevices(w io.Writer, target provision.Target, devs []evdev.DeviceInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tNAME\tHANDLERS")
	for _, d := range devs {
		node := d.EventNode()
		if node == "" {
			node = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", node, d.Name, strings.Join(d.Handlers, " "))
	}
	tw.Flush()

	fmt.Fprintf(w, "\nmodel: %s (profile %s)\n", target.Model, target.Profile.Name)
	for _, src := range []evdev.Source{evdev.Pen, evdev.Touch} {
		auto, err := evdev.PickNode(devs, src)
		if err != nil {
			auto = "none (" + err.Error() + ")"
		}
		fmt.Fprintf(w, "%-5s default %s, auto %s\n", src, target.Profile.NodeFor(src), auto)
	}
}
