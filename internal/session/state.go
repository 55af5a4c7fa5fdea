package session

// State is the lifecycle phase of one client conversation.
type State string

const (
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
	StateSpeaking     State = "speaking"
	StateDisconnected State = "disconnected"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool { return s == StateDisconnected }

var transitions = map[State][]State{
	StateConnecting: {StateIdle},
	StateIdle:       {StateListening, StateProcessing},
	StateListening:  {StateProcessing},
	StateProcessing: {StateSpeaking, StateIdle},
	StateSpeaking:   {StateIdle},
}

// ValidTransition reports whether from -> to is a defined transition.
// Any non-terminal state may move to disconnected.
func ValidTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateDisconnected {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
