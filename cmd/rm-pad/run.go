package main

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alvesvaren/rm-pad/internal/agentbin"
	"github.com/alvesvaren/rm-pad/internal/config"
	"github.com/alvesvaren/rm-pad/internal/manager"
	"github.com/alvesvaren/rm-pad/internal/metrics"
	"github.com/alvesvaren/rm-pad/internal/transport"
)

func newDialer(cfg *config.Config, log *zap.Logger) *transport.SSHDialer {
	return transport.NewSSHDialer(transport.SSHConfig{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		KeyPath:           cfg.KeyPath,
		Password:          cfg.Password,
		KnownHosts:        cfg.KnownHosts,
		KeepaliveInterval: cfg.Keepalive.Interval,
		KeepaliveTimeout:  cfg.Keepalive.Timeout,
	}, log.Named("ssh"))
}

// runBridge forwards input until ctx ends. The grab agents are stopped and
// the liveness marker removed before it returns.
func runBridge(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	m := metrics.New()
	p := newPipeline(cfg, log, m)
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("closing sinks", zap.Error(err))
		}
	}()

	mgr := manager.New(manager.Config{
		Pen:             cfg.Pen(),
		Touch:           cfg.Touch(),
		PenDevice:       cfg.PenDevice,
		TouchDevice:     cfg.TouchDevice,
		Grab:            cfg.GrabInput,
		AliveFile:       cfg.Liveness.Path,
		RefreshInterval: cfg.Liveness.Interval,
		StaleAfter:      cfg.Liveness.StaleAfter,
		PollInterval:    cfg.Agent.PollInterval,
		RemotePath:      cfg.Agent.RemotePath,
		BackoffInitial:  cfg.Backoff.Initial,
		BackoffMax:      cfg.Backoff.Max,
		AcquireHoldoff:  cfg.Backoff.AcquireHoldoff,
	}, newDialer(cfg, log), agentbin.NewStore(cfg.Agent.LocalDir), p.engineFor, log.Named("manager"),
		manager.WithMetrics(m),
		manager.WithStatus(p))

	log.Info("rm-pad starting",
		zap.String("host", cfg.Host),
		zap.Bool("pen", cfg.Pen()),
		zap.Bool("touch", cfg.Touch()),
		zap.Bool("grab", cfg.GrabInput))

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsListen != "" {
		g.Go(func() error { return m.Serve(ctx, cfg.MetricsListen, log.Named("metrics")) })
	}
	g.Go(func() error {
		defer cancel()
		return mgr.Run(ctx)
	})
	return g.Wait()
}
