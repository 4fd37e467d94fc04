// Package pipeline drives each record through the fallback state machine and
// collects the outcomes of a run.
package pipeline

import "github.com/sells-group/cnpj-geocoder/internal/model"

// State is a step in a record's resolution flow.
type State int

const (
	StateStart State = iota
	StateTryFullAddress
	StateTryPostalCode
	StateResolved
	StateUnresolved
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateTryFullAddress:
		return "try-full-address"
	case StateTryPostalCode:
		return "try-postal-code"
	case StateResolved:
		return "resolved"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateUnresolved
}

// Event is what a step produced.
type Event int

const (
	// EventBegin starts a flow.
	EventBegin Event = iota
	// EventHit means some provider returned a usable coordinate.
	EventHit
	// EventExhausted means every provider answered no-match or ran out of retries.
	EventExhausted
	// EventSkipped means the tier had no query to try.
	EventSkipped
)

// Transition returns the next state. Terminal states are absorbing and
// unknown pairs leave the state unchanged.
func Transition(s State, ev Event, addr model.NormalizedAddress) State {
	switch s {
	case StateStart:
		if ev != EventBegin {
			return s
		}
		if addr.HasFullQuery() {
			return StateTryFullAddress
		}
		return StateTryPostalCode
	case StateTryFullAddress:
		switch ev {
		case EventHit:
			return StateResolved
		case EventExhausted, EventSkipped:
			return StateTryPostalCode
		}
	case StateTryPostalCode:
		switch ev {
		case EventHit:
			return StateResolved
		case EventExhausted, EventSkipped:
			return StateUnresolved
		}
	}
	return s
}

// methodFor maps the tier that produced a hit to the reported method.
func methodFor(s State) model.Method {
	switch s {
	case StateTryFullAddress:
		return model.MethodFullAddress
	case StateTryPostalCode:
		return model.MethodPostalCode
	default:
		return model.MethodUnresolved
	}
}
