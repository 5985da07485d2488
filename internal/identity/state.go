package identity

import "fmt"

// State is the authentication state of an identity's remote session.
type State int

const (
	StateUnbound State = iota
	StateConnecting
	StateCodeRequested
	StatePasswordRequested
	StateAuthenticated
	StateDisconnected
	StateFailed
)

var stateNames = [...]string{
	StateUnbound:           "unbound",
	StateConnecting:        "connecting",
	StateCodeRequested:     "code_requested",
	StatePasswordRequested: "password_requested",
	StateAuthenticated:     "authenticated",
	StateDisconnected:      "disconnected",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("identity: unknown state %q", b)
}

// AwaitingInput reports whether the login flow is waiting on the user.
func (s State) AwaitingInput() bool {
	return s == StateCodeRequested || s == StatePasswordRequested
}
