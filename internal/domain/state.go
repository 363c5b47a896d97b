package domain

import "fmt"

// State is a run/stream/data lifecycle state. All three entities share the
// same state vocabulary; not every entity uses every state (Data has no
// DELAYED state).
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateDelayed    State = "DELAYED"
	StateError      State = "ERROR"
	StateProcessed  State = "PROCESSED"
)

// runTransitions and streamTransitions encode the monotone lattice
// PENDING < PROCESSING < {PROCESSED, ERROR, DELAYED} described for runs and
// streams. A DELAYED run returns to PROCESSING; a DELAYED stream returns to
// PENDING, the state the sweeper restores it to.
var runTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateProcessed, StateError, StateDelayed},
	StateDelayed:    {StateProcessing},
	StateProcessed:  {},
	StateError:      {},
}

var streamTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateProcessed, StateError, StateDelayed},
	StateDelayed:    {StatePending},
	StateProcessed:  {},
	StateError:      {},
}

// dataTransitions omits DELAYED: the data worker retries in place rather
// than pausing the whole run, per the spec's reuse of the stream backoff
// policy without the rate-limit escape hatch (data handlers cannot publish
// further streams, so there is nothing to pause).
var dataTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateProcessed, StateError},
	StateProcessed:  {},
	StateError:      {},
}

// ValidateRunTransition reports whether a run may move from `from` to `to`.
func ValidateRunTransition(from, to State) error {
	return validateTransition(runTransitions, "run", from, to)
}

// ValidateStreamTransition reports whether a stream may move from `from` to `to`.
func ValidateStreamTransition(from, to State) error {
	return validateTransition(streamTransitions, "stream", from, to)
}

// ValidateDataTransition reports whether a data row may move from `from` to `to`.
func ValidateDataTransition(from, to State) error {
	return validateTransition(dataTransitions, "data", from, to)
}

func validateTransition(table map[State][]State, kind string, from, to State) error {
	allowed, known := table[from]
	if !known {
		return fmt.Errorf("%s: unknown source state %q", kind, from)
	}
	for _, candidate := range allowed {
		if candidate == to {
			return nil
		}
	}
	return fmt.Errorf("%s: invalid state transition from %s to %s", kind, from, to)
}

// IsTerminal reports whether state has no outgoing transitions for runs and
// streams (PROCESSED, ERROR).
func IsTerminal(state State) bool {
	return state == StateProcessed || state == StateError
}
