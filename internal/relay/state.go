package relay

import (
	"fmt"
	"time"
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateDegraded, StateDisconnected},
	StateDegraded:     {StateConnecting, StateDisconnected},
}

// CanTransition reports whether s may move directly to to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Endpoint is an immutable snapshot of a session's health.
type Endpoint struct {
	URL                 string
	State               State
	ConsecutiveFailures int
	LastSuccess         time.Time // zero if never
	LastLatency         time.Duration
}
