package ingest

import (
	"strings"
	"testing"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		keywords []string
		text     string
		want     string
		ok       bool
	}{
		{"catch all", nil, "anything at all", CatchAll, true},
		{"blank keywords only", []string{" ", ""}, "hello", CatchAll, true},
		{"case insensitive", []string{"Deploy"}, "we DEPLOY tonight", "Deploy", true},
		{"first configured wins", []string{"beta", "alpha"}, "alpha then beta", "beta", true},
		{"trimmed keyword", []string{"  urgent "}, "this is urgent!", "urgent", true},
		{"padded keyword keeps case", []string{"\tFlash Sale "}, "flash sale today", "Flash Sale", true},
		{"no match", []string{"urgent"}, "nothing to see", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NewMatcher(tt.keywords).Match(tt.text)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Match(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLookupReply(t *testing.T) {
	t.Parallel()

	table := map[string]string{
		"price":     "DM me for the price list",
		"price usd": "USD prices soon",
		"ship":      "We ship worldwide",
		"empty":     "  ",
	}
	tests := []struct {
		keyword string
		want    string
		ok      bool
	}{
		{"Price", "DM me for the price list", true},
		{"price usd", "USD prices soon", true},
		{"shipping", "We ship worldwide", true},
		{"pri", "DM me for the price list", true},
		{"empty", "", false},
		{"refund", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := LookupReply(table, tt.keyword)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("LookupReply(%q) = %q, %v; want %q, %v", tt.keyword, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSourceLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		chat bridge.Chat
		want string
	}{
		{bridge.Chat{ID: 1, Username: "golang", Title: "Go"}, "@golang"},
		{bridge.Chat{ID: 1, Title: "Go Paris"}, "Go Paris"},
		{bridge.Chat{ID: 1, FirstName: "Alice"}, "conversation with Alice"},
		{bridge.Chat{ID: 77}, "conversation 77"},
	}
	for _, tt := range tests {
		if got := SourceLabel(tt.chat); got != tt.want {
			t.Errorf("SourceLabel(%+v) = %q, want %q", tt.chat, got, tt.want)
		}
	}
}

func TestSenderName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sender *bridge.Sender
		want   string
	}{
		{nil, "unknown"},
		{&bridge.Sender{ID: 5, FirstName: "Bob", Username: "bobby"}, "Bob"},
		{&bridge.Sender{ID: 5, Username: "bobby"}, "bobby"},
		{&bridge.Sender{ID: 5}, "5"},
		{&bridge.Sender{}, "unknown"},
	}
	for _, tt := range tests {
		if got := SenderName(tt.sender); got != tt.want {
			t.Errorf("SenderName(%+v) = %q, want %q", tt.sender, got, tt.want)
		}
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 250)
	if got := Excerpt(long); got != strings.Repeat("é", 200)+"..." {
		t.Errorf("Excerpt length = %d runes", len([]rune(got)))
	}
	if got := Excerpt("short"); got != "short" {
		t.Errorf("Excerpt = %q", got)
	}
}
