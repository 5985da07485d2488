package identity

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// SendType selects how the configured message is broadcast.
type SendType string

const (
	SendManual    SendType = "manual"
	SendScheduled SendType = "scheduled"
)

// Defaults applied to new identities.
const (
	DefaultIntervalSeconds = 3600
	DefaultMaxRetries      = 5
	MinIntervalSeconds     = 60
)

// Settings is the persisted, user-editable configuration of one identity.
type Settings struct {
	Phone        string   `json:"phone"`
	Keywords     []string `json:"watch_words"`
	Destinations []string `json:"groups"`
	Message      string   `json:"message"`

	SendType        SendType `json:"send_type"`
	IntervalSeconds int      `json:"interval_seconds"`

	MaxRetries    int  `json:"max_retries"`
	AutoReconnect bool `json:"auto_reconnect"`

	AutoReplyEnabled bool `json:"auto_reply_enabled"`
	// AutoReplies maps a lowercased keyword to its reply text.
	AutoReplies map[string]string `json:"auto_replies,omitempty"`
}

// DefaultSettings returns the settings a fresh identity starts with.
func DefaultSettings() Settings {
	return Settings{
		SendType:        SendManual,
		IntervalSeconds: DefaultIntervalSeconds,
		MaxRetries:      DefaultMaxRetries,
		AutoReconnect:   true,
	}
}

// Interval returns the scheduled broadcast interval.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Normalize trims whitespace, drops empty and duplicate keywords and
// destinations, lowercases auto-reply keys and fills zero values with
// defaults. Keyword order is preserved: it decides which keyword wins.
func (s *Settings) Normalize() {
	s.Phone = strings.TrimSpace(s.Phone)
	s.Keywords = dedup(s.Keywords, strings.ToLower)
	s.Destinations = dedup(s.Destinations, func(v string) string { return v })

	if len(s.AutoReplies) > 0 {
		replies := make(map[string]string, len(s.AutoReplies))
		for k, v := range s.AutoReplies {
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			replies[k] = v
		}
		s.AutoReplies = replies
	}

	if s.SendType == "" {
		s.SendType = SendManual
	}
	if s.IntervalSeconds <= 0 {
		s.IntervalSeconds = DefaultIntervalSeconds
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
}

// ErrInvalidSettings wraps every Settings validation failure.
var ErrInvalidSettings = errors.New("identity: invalid settings")

// Validate checks a normalized Settings value.
func (s Settings) Validate() error {
	var errs []error
	switch s.SendType {
	case SendManual, SendScheduled:
	default:
		errs = append(errs, fmt.Errorf("identity: send_type %q is not one of manual, scheduled", s.SendType))
	}
	if s.SendType == SendScheduled {
		if s.IntervalSeconds < MinIntervalSeconds {
			errs = append(errs, fmt.Errorf("identity: interval_seconds must be at least %d", MinIntervalSeconds))
		}
		if len(s.Destinations) == 0 {
			errs = append(errs, errors.New("identity: scheduled sending needs at least one destination"))
		}
		if strings.TrimSpace(s.Message) == "" {
			errs = append(errs, errors.New("identity: scheduled sending needs a message"))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.Keywords = slices.Clone(s.Keywords)
	s.Destinations = slices.Clone(s.Destinations)
	s.AutoReplies = maps.Clone(s.AutoReplies)
	return s
}

func dedup(in []string, key func(string) string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// Stats counts broadcast outcomes per destination.
type Stats struct {
	Sent   int `json:"sent"`
	Errors int `json:"errors"`
}
