package websocket

import "fmt"

// State is the session state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

var allStates = []string{
	StateClosed.String(),
	StateConnecting.String(),
	StateOpen.String(),
	StateReconnecting.String(),
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
