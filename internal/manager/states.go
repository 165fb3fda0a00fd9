package manager

import "fmt"

// State is the connection manager's lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Provisioning
	Active
	Reconnecting
)

// States lists every state, in order.
var States = []State{Disconnected, Connecting, Provisioning, Active, Reconnecting}

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Provisioning:
		return "provisioning"
	case Active:
		return "active"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}
