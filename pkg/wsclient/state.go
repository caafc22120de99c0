package wsclient

// State is the connection lifecycle state. Exactly one State value exists
// per Client; transitions are totally ordered under the client's mutex.
type State uint8

const (
	// StateDisconnected means no physical socket exists.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the socket is open and serviced.
	StateConnected
	// StateDisconnecting is transient and always resolves to disconnected.
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// stateEvent drives the lifecycle reducer.
type stateEvent uint8

const (
	// eventDial is accepted in disconnected and arms a dial.
	eventDial stateEvent = iota
	// eventOpen fires when the dial handshake completed.
	eventOpen
	// eventClosed fires when the socket closed for any reason.
	eventClosed
	// eventStop fires when the caller requested disconnect.
	eventStop
)

// transition is the single pure reducer over the lifecycle. It returns the
// next state and whether the transition is legal; illegal events leave the
// state untouched.
func transition(s State, ev stateEvent) (State, bool) {
	switch ev {
	case eventDial:
		if s == StateDisconnected {
			return StateConnecting, true
		}
	case eventOpen:
		if s == StateConnecting {
			return StateConnected, true
		}
	case eventClosed:
		switch s {
		case StateConnecting, StateConnected, StateDisconnecting:
			return StateDisconnected, true
		}
	case eventStop:
		switch s {
		case StateConnecting, StateConnected:
			return StateDisconnecting, true
		}
	}
	return s, false
}
