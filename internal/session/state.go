package session

import "fmt"

// State is the lifecycle position shared by every session kind.
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateExpired        State = "expired"
	StateLoggedOut      State = "logged_out"
	StateDeactivated    State = "deactivated"
)

type Event string

const (
	EventLogin         Event = "login"
	EventSucceeded     Event = "succeeded"
	EventFailed        Event = "failed"
	EventExpiryTick    Event = "expiry_tick"
	EventLogout        Event = "logout"
	EventRecheckFailed Event = "recheck_failed"
	// EventReset returns a terminal state to anonymous.
	EventReset Event = "reset"
)

var transitions = map[State]map[Event]State{
	StateAnonymous: {
		EventLogin: StateAuthenticating,
	},
	StateAuthenticating: {
		EventSucceeded: StateAuthenticated,
		EventFailed:    StateAnonymous,
	},
	StateAuthenticated: {
		EventExpiryTick:    StateExpired,
		EventLogout:        StateLoggedOut,
		EventRecheckFailed: StateDeactivated,
	},
	StateExpired:     {EventReset: StateAnonymous},
	StateLoggedOut:   {EventReset: StateAnonymous},
	StateDeactivated: {EventReset: StateAnonymous},
}

type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: no transition from %s on %s", e.From, e.Event)
}

// Transition returns the state reached from s on ev.
func Transition(s State, ev Event) (State, error) {
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, &TransitionError{From: s, Event: ev}
}

// Terminal reports whether s only leaves through EventReset.
func (s State) Terminal() bool {
	switch s {
	case StateExpired, StateLoggedOut, StateDeactivated:
		return true
	}
	return false
}

// EndState maps the reason a session was removed to its terminal state.
func EndState(r Reason) State {
	switch r {
	case ReasonExpired:
		return StateExpired
	case ReasonDeactivated:
		return StateDeactivated
	case ReasonLoggedOut:
		return StateLoggedOut
	}
	return StateAnonymous
}
