package bridge

import (
	"errors"
	"fmt"
	"time"
)

// Bridge lifecycle errors.
var (
	ErrNotRunning       = errors.New("bridge: not running")
	ErrInitTimeout      = errors.New("bridge: initialization timed out")
	ErrOperationTimeout = errors.New("bridge: operation timed out")
	ErrPanic            = errors.New("bridge: operation panicked")
)

// Remote error taxonomy. Remote implementations translate network errors
// into these values so callers never depend on a concrete client.
var (
	ErrCodeInvalid     = errors.New("invalid login code")
	ErrCodeExpired     = errors.New("login code expired")
	ErrPasswordNeeded  = errors.New("two-step password required")
	ErrPasswordInvalid = errors.New("invalid two-step password")
	ErrAlreadyMember   = errors.New("already a member")
	ErrInviteExpired   = errors.New("invite link expired")
	ErrInviteInvalid   = errors.New("invite link invalid")
	ErrPeerNotFound    = errors.New("destination not found")
	ErrNotAuthorized   = errors.New("session not authorized")
)

// RateLimitError reports that the network asked the client to back off.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry in %d seconds", int(e.Wait.Seconds()))
}

// AsRateLimit extracts a RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
