package manager

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alvesvaren/rm-pad/internal/evdev"
	"github.com/alvesvaren/rm-pad/internal/transport"
)

// ErrSessionExists is returned when a device already has a live session.
var ErrSessionExists = errors.New("device already has an active grab session")

// GrabSession is one agent capturing one device node. It belongs to the
// manager and lives for one Active cycle at most.
type GrabSession struct {
	ID         string
	Source     evdev.Source
	Device     string
	AliveFile  string
	StaleAfter time.Duration
	Started    time.Time

	proc      transport.Process
	streaming atomic.Bool
	grabbed   atomic.Bool
	once      sync.Once
}

func newSession(src evdev.Source, device, alive string, stale time.Duration, now time.Time) *GrabSession {
	return &GrabSession{
		ID:         uuid.NewString(),
		Source:     src,
		Device:     device,
		AliveFile:  alive,
		StaleAfter: stale,
		Started:    now,
	}
}

// ShortID is the first block of the session ID, used in remote file names.
func (s *GrabSession) ShortID() string {
	return s.ID[:8]
}

// Grabbed reports whether the session holds an exclusive capture: the agent
// was asked to grab and has delivered a record, which it only does once the
// capture succeeded.
func (s *GrabSession) Grabbed() bool { return s.grabbed.Load() }

// Streaming reports whether the agent has delivered any record.
func (s *GrabSession) Streaming() bool { return s.streaming.Load() }

// stop kills the agent. It does not wait for the remote side and is safe to
// call more than once.
func (s *GrabSession) stop() {
	s.once.Do(func() {
		if s.proc != nil {
			s.proc.Kill()
		}
	})
}

// registry enforces at most one session per device path.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*GrabSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*GrabSession)}
}

func (r *registry) add(s *GrabSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.Device]; ok {
		return fmt.Errorf("%s (session %s): %w", s.Device, cur.ID, ErrSessionExists)
	}
	r.sessions[s.Device] = s
	return nil
}

func (r *registry) remove(s *GrabSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.Device] == s {
		delete(r.sessions, s.Device)
	}
}

func (r *registry) list() []*GrabSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*GrabSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
