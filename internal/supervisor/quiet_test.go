package supervisor

import (
	"errors"
	"testing"
	"time"
)

func TestParseQuietHours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		start     time.Duration
		end       time.Duration
		wantError bool
	}{
		{"02:00-06:00", 2 * time.Hour, 6 * time.Hour, false},
		{"23:00 - 07:30", 23 * time.Hour, 7*time.Hour + 30*time.Minute, false},
		{"0200-0600", 0, 0, true},
		{"25:00-06:00", 0, 0, true},
		{"02:00", 0, 0, true},
	}
	for _, tt := range tests {
		q, err := ParseQuietHours(tt.in)
		if tt.wantError {
			if !errors.Is(err, ErrInvalidQuiet) {
				t.Errorf("ParseQuietHours(%q) error = %v, want ErrInvalidQuiet", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseQuietHours(%q): %v", tt.in, err)
			continue
		}
		if q.Start != tt.start || q.End != tt.end {
			t.Errorf("ParseQuietHours(%q) = %v-%v", tt.in, q.Start, q.End)
		}
	}
}

func TestQuietHours_Contains(t *testing.T) {
	t.Parallel()

	at := func(h, m int) time.Time { return time.Date(2026, 1, 1, h, m, 0, 0, time.UTC) }
	normal := QuietHours{Start: 2 * time.Hour, End: 6 * time.Hour}
	wrap := QuietHours{Start: 23 * time.Hour, End: 7 * time.Hour}

	tests := []struct {
		q    QuietHours
		t    time.Time
		want bool
	}{
		{normal, at(3, 0), true},
		{normal, at(6, 0), false},
		{normal, at(1, 59), false},
		{wrap, at(23, 30), true},
		{wrap, at(6, 59), true},
		{wrap, at(12, 0), false},
	}
	for _, tt := range tests {
		if got := tt.q.Contains(tt.t); got != tt.want {
			t.Errorf("%v.Contains(%s) = %v, want %v", tt.q, tt.t.Format("15:04"), got, tt.want)
		}
	}
}
