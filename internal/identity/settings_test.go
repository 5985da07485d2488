package identity

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestSettings_Normalize(t *testing.T) {
	t.Parallel()

	s := Settings{
		Phone:        "  +15550100 ",
		Keywords:     []string{"Sale", " deal ", "", "sale"},
		Destinations: []string{"@a", "@a", " b "},
		AutoReplies:  map[string]string{" Price ": "10$", "empty": " "},
	}
	s.Normalize()

	if s.Phone != "+15550100" {
		t.Errorf("Phone = %q", s.Phone)
	}
	if !slices.Equal(s.Keywords, []string{"Sale", "deal"}) {
		t.Errorf("Keywords = %v", s.Keywords)
	}
	if !slices.Equal(s.Destinations, []string{"@a", "b"}) {
		t.Errorf("Destinations = %v", s.Destinations)
	}
	if len(s.AutoReplies) != 1 || s.AutoReplies["price"] != "10$" {
		t.Errorf("AutoReplies = %v", s.AutoReplies)
	}
	if s.SendType != SendManual || s.IntervalSeconds != DefaultIntervalSeconds || s.MaxRetries != DefaultMaxRetries {
		t.Errorf("defaults not applied: %+v", s)
	}
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		s       Settings
		wantErr string
	}{
		{name: "manual", s: Settings{SendType: SendManual}},
		{
			name: "scheduled ok",
			s:    Settings{SendType: SendScheduled, IntervalSeconds: 3600, Destinations: []string{"@a"}, Message: "hi"},
		},
		{name: "bad type", s: Settings{SendType: "sometimes"}, wantErr: "send_type"},
		{
			name:    "interval too short",
			s:       Settings{SendType: SendScheduled, IntervalSeconds: 5, Destinations: []string{"@a"}, Message: "hi"},
			wantErr: "interval_seconds",
		},
		{
			name:    "no destinations",
			s:       Settings{SendType: SendScheduled, IntervalSeconds: 3600, Message: "hi"},
			wantErr: "destination",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidSettings) {
				t.Errorf("error %v does not wrap ErrInvalidSettings", err)
			}
		})
	}
}

func TestSettings_JSONFieldNames(t *testing.T) {
	t.Parallel()

	raw := `{"phone":"+1","watch_words":["sale"],"groups":["@g"],"send_type":"scheduled","interval_seconds":120,"auto_replies":{"hi":"hello"}}`
	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatal(err)
	}
	if s.Keywords[0] != "sale" || s.Destinations[0] != "@g" || s.SendType != SendScheduled || s.AutoReplies["hi"] != "hello" {
		t.Fatalf("decoded = %+v", s)
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	t.Parallel()

	for s := StateUnbound; s <= StateFailed; s++ {
		b, _ := s.MarshalText()
		var got State
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Fatalf("round trip of %v = %v, %v", s, got, err)
		}
	}
	var bad State
	if err := bad.UnmarshalText([]byte("nope")); err == nil {
		t.Fatal("expected error for unknown state")
	}
	if !StateCodeRequested.AwaitingInput() || StateAuthenticated.AwaitingInput() {
		t.Fatal("AwaitingInput mismatch")
	}
}
