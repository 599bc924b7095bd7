package types

// ClientState is the lifecycle state of a job.
type ClientState string

const (
	StateNotStarted ClientState = "not_started"
	StateStarting   ClientState = "starting"
	StateRunning    ClientState = "running"
	StateCompleted  ClientState = "completed"
	StateFailed     ClientState = "failed"
	StateDeleted    ClientState = "deleted"
)

var allowedTransitions = map[ClientState]map[ClientState]struct{}{
	StateNotStarted: {
		StateStarting: {},
		StateDeleted:  {},
	},
	StateStarting: {
		StateRunning: {},
		StateFailed:  {},
		StateDeleted: {},
	},
	StateRunning: {
		StateCompleted: {},
		StateFailed:    {},
		StateDeleted:   {},
	},
}

// CanTransition reports whether a state transition is valid. Completed,
// Failed and Deleted are terminal: no transition leaves them.
func CanTransition(from, to ClientState) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Terminal reports whether s is a terminal state.
func (s ClientState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateDeleted:
		return true
	}
	return false
}
