package runner

import "fmt"

// State is the lifecycle state of one run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Status texts reported to the user.
const (
	StatusRunning       = "Running translation..."
	StatusSucceeded     = "Translation completed successfully!"
	StatusOutputMissing = "Translation failed: Output file not found"
	StatusFailed        = "Translation failed!"
	StatusCancelled     = "Translation cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ParseState validates a stored state name.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateIdle, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown run state: %q", s)
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateRunning || to == StateFailed || to == StateCancelled
	case StateRunning:
		return to == StateSucceeded || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}
