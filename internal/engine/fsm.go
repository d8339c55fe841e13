package engine

import "fmt"

// State is one state of the session state machine.
type State uint8

// Session states, in their natural progression order.
const (
	StateInit State = iota
	StateRTTSync
	StatePrelim
	StateP1
	StateP1Calc
	StateP2
	StateP2Calc
	StateCalc
	StateClose
	StateEnd
)

// String renders a State for logging and the progress-signal line.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRTTSync:
		return "RTT_SYNC"
	case StatePrelim:
		return "PRELIM"
	case StateP1:
		return "P1"
	case StateP1Calc:
		return "P1_CALC"
	case StateP2:
		return "P2"
	case StateP2Calc:
		return "P2_CALC"
	case StateCalc:
		return "CALC"
	case StateClose:
		return "CLOSE"
	case StateEnd:
		return "END"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Event drives state transitions. Every sampler phase emits exactly one
// of these on completion.
type Event uint8

// Events.
const (
	EventPhaseComplete Event = iota
	EventPhaseQuickExit // PRELIM decided QUICK or an early-exit heuristic fired
	EventFatal
)

// transitions maps (state, event) pairs to the next state. Session.advance
// drives the real run loop through this table; keeping it a pure function
// of (state, event) means the same table can also be exercised directly,
// without sockets, in tests.
var transitions = map[State]map[Event]State{
	StateInit: {
		EventPhaseComplete: StateRTTSync,
		EventFatal:         StateClose,
	},
	StateRTTSync: {
		EventPhaseComplete: StatePrelim,
		EventFatal:         StateClose,
	},
	StatePrelim: {
		EventPhaseComplete:  StateP1,
		EventPhaseQuickExit: StateCalc,
		EventFatal:          StateClose,
	},
	StateP1: {
		EventPhaseComplete:  StateP1Calc,
		EventPhaseQuickExit: StateP1Calc,
		EventFatal:          StateClose,
	},
	StateP1Calc: {
		EventPhaseComplete: StateP2,
		EventFatal:         StateClose,
	},
	StateP2: {
		EventPhaseComplete: StateP2Calc,
		EventFatal:         StateClose,
	},
	StateP2Calc: {
		EventPhaseComplete: StateCalc,
		EventFatal:         StateClose,
	},
	StateCalc: {
		EventPhaseComplete: StateClose,
		EventFatal:         StateClose,
	},
	StateClose: {
		EventPhaseComplete: StateEnd,
		EventFatal:         StateEnd,
	},
}

// Apply returns the next state for (current, event). Unknown (state,
// event) pairs fall through to StateClose, matching the "any hard
// failure transitions directly to CLOSE" rule.
func Apply(current State, event Event) State {
	row, ok := transitions[current]
	if !ok {
		return StateClose
	}
	next, ok := row[event]
	if !ok {
		return StateClose
	}
	return next
}
