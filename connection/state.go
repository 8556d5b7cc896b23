package connection

// State represents the current state of the managed connection.
type State int

const (
	// StateClosed means no transport exists. Initial state, and terminal
	// for the session after Disconnect or exhausted reconnection.
	StateClosed State = iota

	// StateConnecting means a transport dial is in flight.
	StateConnecting

	// StateOpen means the transport is established and ready.
	StateOpen

	// StateClosing means a caller-initiated close is in progress.
	StateClosing

	// StateReconnecting means an automatic retry is pending after an
	// abnormal loss.
	StateReconnecting
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateEvent is published on the state channel for every transition.
type StateEvent struct {
	Previous State
	Current  State
	Err      error // cause of the transition, when one exists
}

// transitionEvent drives the connection state machine.
type transitionEvent int

const (
	// evDial: a caller or a scheduled retry initiates a connect.
	evDial transitionEvent = iota
	// evOpened: the transport reported open.
	evOpened
	// evDisconnect: a caller-initiated close begins.
	evDisconnect
	// evClosed: the transport is gone, normally or otherwise.
	evClosed
	// evRetryPending: abnormal loss with retries remaining.
	evRetryPending
)

// transition is the pure state-machine function. It returns the next
// state and whether the event is valid in the current state; an invalid
// event leaves the state untouched and must not produce a state event.
func transition(s State, ev transitionEvent) (State, bool) {
	switch ev {
	case evDial:
		if s == StateClosed || s == StateReconnecting {
			return StateConnecting, true
		}
	case evOpened:
		if s == StateConnecting {
			return StateOpen, true
		}
	case evDisconnect:
		if s == StateOpen || s == StateConnecting || s == StateReconnecting {
			return StateClosing, true
		}
	case evClosed:
		if s != StateClosed {
			return StateClosed, true
		}
	case evRetryPending:
		if s == StateClosed {
			return StateReconnecting, true
		}
	}
	return s, false
}
