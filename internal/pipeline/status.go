package pipeline

import "fmt"

// State is the session lifecycle of a Manager.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is the single source of truth for whether audio is being accepted.
// Reason is only set in StateError.
type Status struct {
	State     State  `json:"state"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s Status) AcceptsAudio() bool { return s.State == StateActive }

// Busy reports whether a session occupies the manager.
func (s Status) Busy() bool {
	return s.State == StateStarting || s.State == StateActive || s.State == StateStopping
}

func (s Status) String() string {
	if s.State == StateError {
		return "error: " + s.Reason
	}
	return s.State.String()
}
