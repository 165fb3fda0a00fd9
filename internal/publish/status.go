package publish

import "time"

// Status is a snapshot of the connection manager for consumers that show
// it to the user.
type Status struct {
	State    string            `json:"state"`
	Detail   string            `json:"detail,omitempty"`
	Sessions map[string]string `json:"sessions,omitempty"` // source -> session state
	Since    time.Time         `json:"since"`
}

// StatusSink is implemented by sinks that also report manager status.
type StatusSink interface {
	PublishStatus(st Status) error
}

// PublishStatus forwards st to every member that accepts status.
func (m Multi) PublishStatus(st Status) error {
	var firstErr error
	for _, s := range m {
		if ss, ok := s.(StatusSink); ok {
			if err := ss.PublishStatus(st); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
