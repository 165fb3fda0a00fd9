// Command rm-pad-grab runs on the tablet. It grabs one input node and
// streams its raw input_event records to stdout until stdout goes away, a
// termination signal arrives, or the liveness marker goes stale.
//
// Logs go to stderr; stdout carries nothing but records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/agent"
	"github.com/alvesvaren/rm-pad/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var cfg agent.Config
	var logLevel string

	flags := pflag.NewFlagSet("rm-pad-grab", pflag.ContinueOnError)
	flags.StringVar(&cfg.DevicePath, "device", "", "input device to grab (e.g. /dev/input/event1)")
	flags.StringVar(&cfg.AliveFile, "alive-file", "", "liveness marker refreshed by the host; empty disables the self-check")
	flags.DurationVar(&cfg.StaleAfter, "stale-after", 10*time.Second, "release the grab when the marker is older than this")
	flags.DurationVar(&cfg.PollInterval, "poll-interval", agent.DefaultPollInterval, "how often the marker is checked while idle")
	flags.StringVar(&cfg.PIDFile, "pidfile", "", "write the agent pid here while running")
	flags.BoolVar(&cfg.NoGrab, "no-grab", false, "stream without exclusive capture")
	flags.IntVar(&cfg.RecordSize, "record-size", 0, "input_event size in bytes (default: native)")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return agent.ExitOK
		}
		return agent.ExitUsage
	}
	if cfg.DevicePath == "" || flags.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "usage: rm-pad-grab --device /dev/input/eventN [--alive-file PATH --stale-after DUR] [--pidfile PATH]")
		return agent.ExitUsage
	}
	if cfg.AliveFile != "" && cfg.StaleAfter <= 0 {
		fmt.Fprintln(os.Stderr, "--stale-after must be positive")
		return agent.ExitUsage
	}

	log, err := logging.New(logLevel, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return agent.ExitUsage
	}
	defer logging.Sync(log)

	// With SIGPIPE notified, a write to a closed stdout returns EPIPE
	// instead of killing the process before the grab is released.
	signal.Notify(make(chan os.Signal, 1), syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	err = agent.New(cfg, os.Stdout, log.With(zap.String("device", cfg.DevicePath))).Run(ctx)
	code := agent.ExitCode(err)
	if err != nil {
		log.Warn("agent exiting", zap.Int("code", code), zap.Error(err))
	}
	return code
}
