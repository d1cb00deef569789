package supervisor

import "fmt"

// State is the lifecycle position of a managed agent process.
type State int

const (
	StatePending State = iota
	StateLaunching
	StateRunning
	StateSignaled
	StateTerminating
	StateExited
	StateTerminated
)

var stateNames = map[State]string{
	StatePending:     "pending",
	StateLaunching:   "launching",
	StateRunning:     "running",
	StateSignaled:    "signaled",
	StateTerminating: "terminating",
	StateExited:      "exited",
	StateTerminated:  "terminated",
}

// States lists every state in lifecycle order.
var States = []State{
	StatePending, StateLaunching, StateRunning, StateSignaled,
	StateTerminating, StateExited, StateTerminated,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateExited || s == StateTerminated
}

// transitions holds every allowed edge. Nothing ever leads back to an
// earlier state.
var transitions = map[State][]State{
	StatePending:     {StateLaunching, StateTerminated},
	StateLaunching:   {StateRunning, StateExited},
	StateRunning:     {StateExited, StateSignaled},
	StateSignaled:    {StateTerminated, StateTerminating},
	StateTerminating: {StateTerminated},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
