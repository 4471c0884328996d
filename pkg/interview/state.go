package interview

import (
	"github.com/harunnryd/interviewflow/pkg/errorsx"
)

// State is the active turn-handler kind.
type State int

const (
	StateGreeting State = iota
	StateAsking
	StateDecidingNext
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateAsking:
		return "asking"
	case StateDecidingNext:
		return "deciding_next"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// entryFunc runs when a handler becomes active. A non-nil handoff names the
// next handler; the engine applies it before running that handler's entry.
type entryFunc func(r *run) (*handoff, error)

type stateDef struct {
	entry        entryFunc
	next         []State
	capabilities []string
}

// stateTable is the single dispatch point for every state.
var stateTable map[State]stateDef

func init() {
	stateTable = map[State]stateDef{
		StateGreeting: {
			entry:        enterGreeting,
			next:         []State{StateDecidingNext, StateEnding},
			capabilities: []string{capConfirmReady, capConfirmCancel, capEndPrematurely},
		},
		StateAsking: {
			entry:        enterAsking,
			next:         []State{StateDecidingNext, StateEnding},
			capabilities: []string{capFollowUp, capTransition, capEndPrematurely},
		},
		StateDecidingNext: {
			entry: enterDecidingNext,
			next:  []State{StateAsking, StateDecidingNext, StateEnding},
		},
		StateEnding: {
			entry:        enterEnding,
			capabilities: []string{capFinish},
		},
	}
}

func transitionValid(from, to State) bool {
	def, ok := stateTable[from]
	if !ok {
		return false
	}
	for _, allowed := range def.next {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

func invalidTransition(from, to State) error {
	return errorsx.Wrap(&InvalidTransitionError{From: from, To: to}, errorsx.ReasonInvalidTransition)
}
