// Package alert queues keyword alerts and delivers them, one at a time, to
// the UI, the identity's own saved messages and an optional admin chat.
package alert

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Text bounds for the different renderings of an alert.
const (
	noteTextLimit  = 500
	adminTextLimit = 300
)

// Event is one keyword match.
type Event struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity"`
	Keyword    string    `json:"keyword"`
	Source     string    `json:"group"`
	Sender     string    `json:"sender"`
	Excerpt    string    `json:"excerpt"`
	Text       string    `json:"message"`
	At         time.Time `json:"message_time"`

	MessageID      int    `json:"message_id"`
	ChatID         int64  `json:"chat_id"`
	ChatUsername   string `json:"group_username,omitempty"`
	ChatPublic     bool   `json:"-"`
	SenderUsername string `json:"sender_username,omitempty"`
	// IdentityName is the display name of the receiving identity.
	IdentityName string `json:"-"`
}

// PushTitle implements notify.AlertSummary.
func (e Event) PushTitle() string {
	return fmt.Sprintf("Keyword %q in %s", e.Keyword, e.Source)
}

// PushBody implements notify.AlertSummary.
func (e Event) PushBody() string {
	return e.Excerpt
}

// Truncate cuts s to at most limit runes, appending "..." when it did.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

// MessageLink returns a public link to the original message, or "" when
// the chat cannot be linked to.
func (e Event) MessageLink() string {
	if e.MessageID == 0 {
		return ""
	}
	if u := strings.TrimPrefix(e.ChatUsername, "@"); u != "" {
		return fmt.Sprintf("https://t.me/%s/%d", u, e.MessageID)
	}
	if id, ok := channelLinkID(e.ChatID); ok {
		return fmt.Sprintf("https://t.me/c/%s/%d", id, e.MessageID)
	}
	return ""
}

// channelLinkID strips the -100 marker from a channel chat ID.
func channelLinkID(chatID int64) (string, bool) {
	s := strconv.FormatInt(chatID, 10)
	if rest, ok := strings.CutPrefix(s, "-100"); ok && rest != "" {
		return rest, true
	}
	return "", false
}

// LogLine is the one-line summary pushed to the identity's activity log.
func (e Event) LogLine() string {
	return fmt.Sprintf("🚨 Alert: %q in %s", e.Keyword, e.Source)
}

// NoteToSelf renders the alert for the identity's saved messages.
func (e Event) NoteToSelf() string {
	var b strings.Builder
	b.WriteString("🚨 Keyword alert\n\n")
	fmt.Fprintf(&b, "📝 Keyword: %s\n", e.Keyword)
	fmt.Fprintf(&b, "📊 Source: %s\n", e.Source)
	fmt.Fprintf(&b, "👤 Sender: %s\n", e.Sender)
	fmt.Fprintf(&b, "🕐 Time: %s\n", e.At.Format("15:04:05"))
	fmt.Fprintf(&b, "🔗 Message ID: %d\n\n", e.MessageID)
	b.WriteString("💬 Message:\n")
	b.WriteString(Truncate(e.Text, noteTextLimit))
	return b.String()
}

// AdminHTML renders the alert for the admin chat with links to the
// source chat, the message and the sender where they are public.
func (e Event) AdminHTML() string {
	source := html.EscapeString(e.Source)
	if u := strings.TrimPrefix(e.ChatUsername, "@"); u != "" {
		source = fmt.Sprintf(`<a href="https://t.me/%s">%s</a>`, u, source)
	}
	sender := html.EscapeString(e.Sender)
	if u := strings.TrimPrefix(e.SenderUsername, "@"); u != "" {
		sender = fmt.Sprintf(`<a href="https://t.me/%s">%s</a>`, u, sender)
	}
	message := "private conversation"
	if link := e.MessageLink(); link != "" {
		message = fmt.Sprintf(`<a href="%s">open</a>`, link)
	}
	name := e.IdentityName
	if name == "" {
		name = e.IdentityID
	}

	var b strings.Builder
	b.WriteString("🚨 <b>New monitoring alert</b>\n\n")
	fmt.Fprintf(&b, "👤 <b>Identity:</b> %s\n", html.EscapeString(name))
	fmt.Fprintf(&b, "🔑 <b>Keyword:</b> %s\n\n", html.EscapeString(e.Keyword))
	fmt.Fprintf(&b, "📊 <b>Source:</b> %s\n", source)
	fmt.Fprintf(&b, "👥 <b>Sender:</b> %s\n", sender)
	fmt.Fprintf(&b, "🔗 <b>Message:</b> %s\n\n", message)
	b.WriteString("💬 <b>Text:</b>\n")
	b.WriteString(html.EscapeString(Truncate(e.Text, adminTextLimit)))
	fmt.Fprintf(&b, "\n\n⏰ <b>Time:</b> %s", e.At.Format("15:04:05"))
	return b.String()
}
