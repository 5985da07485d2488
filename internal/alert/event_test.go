package alert

import (
	"strings"
	"testing"
	"time"
)

func TestEvent_MessageLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"public username", Event{ChatUsername: "golang_fr", MessageID: 42}, "https://t.me/golang_fr/42"},
		{"at prefixed", Event{ChatUsername: "@golang_fr", MessageID: 7}, "https://t.me/golang_fr/7"},
		{"private channel", Event{ChatID: -1001234567890, MessageID: 5}, "https://t.me/c/1234567890/5"},
		{"basic group", Event{ChatID: -4567, MessageID: 5}, ""},
		{"direct message", Event{ChatID: 99, MessageID: 5}, ""},
		{"no message id", Event{ChatUsername: "golang_fr"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.ev.MessageLink(); got != tt.want {
				t.Errorf("MessageLink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("héllo", 5); got != "héllo" {
		t.Errorf("Truncate at limit = %q", got)
	}
	if got := Truncate("héllo world", 5); got != "héllo..." {
		t.Errorf("Truncate = %q", got)
	}
}

func TestEvent_NoteToSelf(t *testing.T) {
	t.Parallel()

	ev := Event{
		Keyword:   "urgent",
		Source:    "@ops",
		Sender:    "Alice",
		Text:      strings.Repeat("x", 600),
		At:        time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC),
		MessageID: 31,
	}
	note := ev.NoteToSelf()

	for _, want := range []string{"Keyword: urgent", "Source: @ops", "Sender: Alice", "14:05:09", "Message ID: 31"} {
		if !strings.Contains(note, want) {
			t.Errorf("note missing %q:\n%s", want, note)
		}
	}
	if !strings.HasSuffix(note, strings.Repeat("x", 500)+"...") {
		t.Error("message text should be truncated to 500 characters")
	}
}

func TestEvent_AdminHTML(t *testing.T) {
	t.Parallel()

	ev := Event{
		IdentityID:     "user_1",
		IdentityName:   "Ops <team>",
		Keyword:        "a&b",
		Source:         "@ops",
		ChatUsername:   "ops",
		Sender:         "Bob",
		SenderUsername: "bob",
		Text:           "<script>alert(1)</script>",
		MessageID:      9,
	}
	out := ev.AdminHTML()

	for _, want := range []string{
		"Ops &lt;team&gt;",
		"a&amp;b",
		`<a href="https://t.me/ops">@ops</a>`,
		`<a href="https://t.me/bob">Bob</a>`,
		`<a href="https://t.me/ops/9">open</a>`,
		"&lt;script&gt;alert(1)&lt;/script&gt;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("AdminHTML missing %q:\n%s", want, out)
		}
	}

	ev.ChatUsername, ev.ChatID = "", 42
	if out := ev.AdminHTML(); !strings.Contains(out, "private conversation") {
		t.Errorf("expected private conversation marker:\n%s", out)
	}
}
