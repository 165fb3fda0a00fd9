package main

import (
	"sync"

	"go.uber.org/zap"

	"github.com/alvesvaren/rm-pad/internal/config"
	"github.com/alvesvaren/rm-pad/internal/device"
	"github.com/alvesvaren/rm-pad/internal/fusion"
	"github.com/alvesvaren/rm-pad/internal/metrics"
	"github.com/alvesvaren/rm-pad/internal/orientation"
	"github.com/alvesvaren/rm-pad/internal/publish"
	"github.com/alvesvaren/rm-pad/internal/uinput"
)

// pipeline owns the sinks and the fusion engine. Both depend on the tablet
// model, which is only known after the first connection, so they are built
// lazily and kept for as long as the same model keeps reconnecting.
type pipeline struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	profile string
	sinks   publish.Multi
	engine  *fusion.Engine
}

func newPipeline(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *pipeline {
	return &pipeline{cfg: cfg, log: log, metrics: m}
}

// engineFor is the manager's EngineFunc.
func (p *pipeline) engineFor(profile device.Profile) (*fusion.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine != nil && p.profile == profile.Name {
		return p.engine, nil
	}
	if p.sinks != nil {
		p.log.Info("tablet model changed; recreating sinks", zap.String("from", p.profile), zap.String("to", profile.Name))
		if err := p.sinks.Close(); err != nil {
			p.log.Warn("closing sinks", zap.Error(err))
		}
		p.sinks, p.engine = nil, nil
	}

	sinks, err := p.newSinks(profile)
	if err != nil {
		return nil, err
	}
	p.profile, p.sinks = profile.Name, sinks
	p.engine = fusion.New(fusion.Config{
		Profile:       profile,
		Orientation:   p.cfg.Orientation,
		PalmRejection: p.cfg.PalmRejectionActive(),
		PalmGrace:     p.cfg.PalmGrace,
	}, sinks, p.log.Named("fusion"), p.metrics)
	p.log.Info("pipeline ready",
		zap.String("profile", profile.Name),
		zap.Stringer("orientation", p.cfg.Orientation),
		zap.Bool("palm_rejection", p.cfg.PalmRejectionActive()),
		zap.Int("sinks", len(sinks)))
	return p.engine, nil
}

func (p *pipeline) newSinks(profile device.Profile) (publish.Multi, error) {
	var sinks publish.Multi
	if p.cfg.Sink.Uinput {
		u, err := publish.NewUinputSink(uinput.DefaultPath, profile, p.cfg.Orientation, p.cfg.Pen(), p.cfg.Touch(), p.log.Named("uinput"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, u)
	}
	if url := p.cfg.Sink.WebSocket; url != "" {
		sinks = append(sinks, publish.NewWebSocketSink(publish.WebSocketConfig{
			URL:         url,
			PenBounds:   p.cfg.Orientation.Pen().Bounds(orientation.Bounds{XMax: profile.PenXMax, YMax: profile.PenYMax}),
			PressureMax: profile.PenPressureMax,
		}, p.log.Named("websocket")))
	}
	return sinks, nil
}

// PublishStatus forwards manager status to the current sinks. Status
// published before the first connection has nowhere to go and is dropped.
func (p *pipeline) PublishStatus(st publish.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sinks == nil {
		return nil
	}
	return p.sinks.PublishStatus(st)
}

func (p *pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sinks == nil {
		return nil
	}
	err := p.sinks.Close()
	p.sinks, p.engine = nil, nil
	return err
}
