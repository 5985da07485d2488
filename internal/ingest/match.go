// Package ingest turns inbound messages into keyword alerts and auto-replies.
package ingest

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/flemzord/tgmonitor/internal/alert"
	"github.com/flemzord/tgmonitor/internal/bridge"
)

// CatchAll is the keyword reported when an identity watches every message.
const CatchAll = "new message"

const excerptLimit = 200

// Matcher finds the first configured keyword contained in a message.
type Matcher struct {
	keywords []string
	lowered  []string
}

// NewMatcher builds a matcher over keywords, keeping their order. Keywords
// are trimmed and blank ones are ignored.
func NewMatcher(keywords []string) *Matcher {
	m := &Matcher{}
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m.keywords = append(m.keywords, k)
		m.lowered = append(m.lowered, strings.ToLower(k))
	}
	return m
}

// CatchAll reports whether the matcher accepts every message.
func (m *Matcher) CatchAll() bool { return len(m.keywords) == 0 }

// Match returns the keyword matched, trimmed but in its configured case.
// With no keywords
// every message matches as CatchAll.
func (m *Matcher) Match(text string) (string, bool) {
	if m.CatchAll() {
		return CatchAll, true
	}
	low := strings.ToLower(text)
	for i, k := range m.lowered {
		if strings.Contains(low, k) {
			return m.keywords[i], true
		}
	}
	return "", false
}

// LookupReply finds the auto-reply for keyword: an exact key first, then
// any key that contains or is contained by the keyword, in key order.
// Blank replies count as missing.
func LookupReply(table map[string]string, keyword string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(keyword))
	if k == "" {
		return "", false
	}
	if r, ok := table[k]; ok {
		return r, strings.TrimSpace(r) != ""
	}
	for _, key := range slices.Sorted(maps.Keys(table)) {
		low := strings.ToLower(key)
		if low != "" && (strings.Contains(k, low) || strings.Contains(low, k)) {
			r := table[key]
			return r, strings.TrimSpace(r) != ""
		}
	}
	return "", false
}

// SourceLabel names the conversation a message came from.
func SourceLabel(c bridge.Chat) string {
	switch {
	case c.Username != "":
		return "@" + strings.TrimPrefix(c.Username, "@")
	case c.Title != "":
		return c.Title
	case c.FirstName != "":
		return "conversation with " + c.FirstName
	default:
		return "conversation " + strconv.FormatInt(c.ID, 10)
	}
}

// SenderName is the best available display name for s.
func SenderName(s *bridge.Sender) string {
	switch {
	case s == nil:
		return "unknown"
	case s.FirstName != "":
		return s.FirstName
	case s.Username != "":
		return s.Username
	case s.ID != 0:
		return strconv.FormatInt(s.ID, 10)
	default:
		return "unknown"
	}
}

// Excerpt shortens a message body for display.
func Excerpt(text string) string {
	return alert.Truncate(text, excerptLimit)
}
