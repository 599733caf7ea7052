package mcp

// State is the session lifecycle state.
type State int

const (
	StateUnstarted State = iota
	StateInitializing
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible except Failed → Closed.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
