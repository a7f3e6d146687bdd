package gateway

// State is the connection lifecycle state. It is a single tagged value
// rather than a set of booleans so that contradictory combinations
// cannot be represented.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateStreaming
	StateEnding
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateStreaming:
		return "STREAMING"
	case StateEnding:
		return "ENDING"
	case StateErrored:
		return "ERRORED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var validTransitions = map[State][]State{
	StateConnecting: {StateReady, StateErrored, StateClosed},
	StateReady:      {StateStreaming, StateErrored, StateClosed},
	StateStreaming:  {StateEnding, StateReady, StateErrored, StateClosed},
	StateEnding:     {StateReady, StateErrored, StateClosed},
	StateErrored:    {StateClosed},
	StateClosed:     {},
}

// CanTransition reports whether moving from s to next is a legal step
// in the connection lifecycle.
func (s State) CanTransition(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
