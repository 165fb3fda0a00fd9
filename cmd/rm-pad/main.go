// Command rm-pad turns a reMarkable tablet into a pen tablet and touchpad
// for the host. It connects to the tablet over SSH, runs a small grab agent
// per input device and republishes the fused stream through uinput.
//
//	rm-pad [run]           forward input until interrupted (default)
//	rm-pad dump pen|touch  print a device's events without grabbing it
//	rm-pad devices         list the tablet's input devices
//	rm-pad config          print the effective configuration
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/config"
	"github.com/alvesvaren/rm-pad/internal/logging"
)

const usage = `usage: rm-pad [flags] [run | dump pen|touch | devices | config]

Flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("rm-pad", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	config.RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	cmd, args := "run", flags.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "config" {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return 2
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer logging.Sync(log)
	if cfg.File != "" {
		log.Debug("loaded config file", zap.String("path", cfg.File))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		err = runBridge(ctx, cfg, log)
	case "dump":
		if len(args) != 1 {
			flags.Usage()
			return 2
		}
		err = dump(ctx, newDialer(cfg, log), cfg, args[0], os.Stdout, log)
	case "devices":
		err = devices(ctx, newDialer(cfg, log), cfg, os.Stdout, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flags.Usage()
		return 2
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("fatal", zap.Error(err))
		return 1
	}
	return 0
}
