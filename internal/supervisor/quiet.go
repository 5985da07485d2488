package supervisor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidQuiet is returned for a malformed quiet hours window.
var ErrInvalidQuiet = errors.New("supervisor: invalid quiet hours format")

// QuietHours is a daily window during which scheduled broadcasts are held
// back. Format: "HH:MM-HH:MM" (24-hour), wrapping past midnight when the
// start is after the end.
type QuietHours struct {
	Start time.Duration // offset from midnight
	End   time.Duration
}

// ParseQuietHours parses a "HH:MM-HH:MM" string.
func ParseQuietHours(s string) (QuietHours, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return QuietHours{}, fmt.Errorf("%w: expected HH:MM-HH:MM, got %q", ErrInvalidQuiet, s)
	}

	from, err := parseClock(strings.TrimSpace(start))
	if err != nil {
		return QuietHours{}, fmt.Errorf("%w: start: %w", ErrInvalidQuiet, err)
	}
	to, err := parseClock(strings.TrimSpace(end))
	if err != nil {
		return QuietHours{}, fmt.Errorf("%w: end: %w", ErrInvalidQuiet, err)
	}
	return QuietHours{Start: from, End: to}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether t falls within the window. The caller converts
// t to the wanted timezone.
func (q QuietHours) Contains(t time.Time) bool {
	offset := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second

	if q.Start <= q.End {
		return offset >= q.Start && offset < q.End
	}
	return offset >= q.Start || offset < q.End
}
