package publish

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alvesvaren/rm-pad/internal/backoff"
	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/orientation"
)

// WebSocketConfig configures a WebSocketSink.
type WebSocketConfig struct {
	URL       string
	PingEvery time.Duration
	PongWait  time.Duration

	// Queue bounds the frames waiting for the connection. Frames beyond it
	// are dropped rather than stalling the pipeline.
	Queue int

	// Output spaces used to normalize pen positions to 0..1.
	PenBounds   orientation.Bounds
	PressureMax int32
}

type outFrame struct {
	T   string     `json:"t"`
	Src string     `json:"src"`
	TS  int64      `json:"ts"`
	Ev  [][3]int32 `json:"ev"`
	// Pen only: normalized x, y, pressure after the frame.
	Pt []float64 `json:"pt,omitempty"`
}

type outStatus struct {
	T string `json:"t"`
	Status
}

// WebSocketSink streams frames and manager status to a desktop consumer.
// It reconnects on its own; Publish never blocks on the network. Messages
// are encoded when published and written by a single goroutine, which also
// sends the pings.
type WebSocketSink struct {
	cfg WebSocketConfig
	log *zap.Logger

	mu      sync.Mutex
	pending map[evdev.Source][]Event
	penX    int32
	penY    int32
	penP    int32

	queue   chan []byte
	dropped atomic.Int64
	warn    rate.Sometimes

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWebSocketSink(cfg WebSocketConfig, log *zap.Logger) *WebSocketSink {
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = 2 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 8 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketSink{
		cfg:     cfg,
		log:     log,
		pending: make(map[evdev.Source][]Event),
		queue:   make(chan []byte, cfg.Queue),
		warn:    rate.Sometimes{Interval: 5 * time.Second},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *WebSocketSink) Publish(ev Event) error {
	s.mu.Lock()
	if ev.Source == evdev.Pen && ev.Type == evdev.EV_ABS {
		switch ev.Code {
		case evdev.ABS_X:
			s.penX = ev.Value
		case evdev.ABS_Y:
			s.penY = ev.Value
		case evdev.ABS_PRESSURE:
			s.penP = ev.Value
		}
	}
	if !ev.IsSynReport() {
		s.pending[ev.Source] = append(s.pending[ev.Source], ev)
		s.mu.Unlock()
		return nil
	}
	evs := s.pending[ev.Source]
	s.pending[ev.Source] = nil
	f := outFrame{T: "frame", Src: ev.Source.String(), TS: time.Now().UnixMilli(), Ev: make([][3]int32, 0, len(evs))}
	for _, e := range evs {
		f.Ev = append(f.Ev, [3]int32{int32(e.Type), int32(e.Code), e.Value})
	}
	if ev.Source == evdev.Pen {
		f.Pt = []float64{
			norm(s.penX, 0, s.cfg.PenBounds.XMax),
			norm(s.penY, 0, s.cfg.PenBounds.YMax),
			norm(s.penP, 0, s.cfg.PressureMax),
		}
	}
	s.mu.Unlock()
	return s.enqueue(f)
}

func (s *WebSocketSink) PublishStatus(st Status) error {
	return s.enqueue(outStatus{T: "status", Status: st})
}

func (s *WebSocketSink) enqueue(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.queue <- msg:
	default:
		n := s.dropped.Add(1)
		s.warn.Do(func() {
			s.log.Warn("websocket consumer not keeping up, dropping frames", zap.Int64("dropped", n))
		})
	}
	return nil
}

// Dropped reports how many messages were discarded.
func (s *WebSocketSink) Dropped() int64 { return s.dropped.Load() }

func (s *WebSocketSink) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *WebSocketSink) run(ctx context.Context) {
	defer close(s.done)
	bo := backoff.New(backoff.DefaultInitial, backoff.DefaultMax)
	for {
		c, readErr, err := dialConsumer(ctx, s.cfg.URL, s.cfg.PongWait)
		if err != nil {
			delay := bo.Next()
			s.log.Debug("websocket connect failed", zap.String("url", s.cfg.URL), zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		s.log.Info("websocket connected", zap.String("url", s.cfg.URL))
		bo.Reset()

		err = s.pump(ctx, c, readErr)
		hangUp(c)
		if ctx.Err() != nil {
			return
		}
		delay := bo.Next()
		s.log.Warn("websocket disconnected", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// pump is the only writer on c until it returns.
func (s *WebSocketSink) pump(ctx context.Context, c *websocket.Conn, readErr <-chan error) error {
	ping := time.NewTicker(s.cfg.PingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ping.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case msg := <-s.queue:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		}
	}
}
