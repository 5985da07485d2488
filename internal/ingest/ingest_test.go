package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/tgmonitor/internal/alert"
	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/bridge/bridgetest"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/notify"
	"github.com/flemzord/tgmonitor/internal/notify/notifytest"
)

type fakeQueue struct {
	mu     sync.Mutex
	events []alert.Event
}

func (q *fakeQueue) Enqueue(ev alert.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return true
}

func (q *fakeQueue) all() []alert.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]alert.Event(nil), q.events...)
}

func setup(t *testing.T, settings identity.Settings) (*Ingester, *fakeQueue, *bridgetest.Remote, *notifytest.Recorder) {
	t.Helper()

	reg := identity.NewRegistry(identity.DefaultProfiles())
	remote := bridgetest.NewRemote()
	b := bridge.New("user_1", remote, bridge.Config{}, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Stop)
	_, _ = reg.Update("user_1", func(rec *identity.Identity) error {
		rec.Settings = settings
		rec.Bridge = b
		rec.State = identity.StateAuthenticated
		return nil
	})

	q := &fakeQueue{}
	rec := notifytest.NewRecorder()
	in := New(Config{}, reg, q, rec, nil)
	in.delay = func() time.Duration { return 0 }
	return in, q, remote, rec
}

func TestIngester_EmitsOneAlertPerMessage(t *testing.T) {
	t.Parallel()

	in, q, _, _ := setup(t, identity.Settings{Keywords: []string{"deploy", "prod"}})
	date := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	in.Handle(context.Background(), "user_1", bridge.Inbound{
		MessageID: 12,
		Text:      "deploy to prod now",
		Date:      date,
		Chat:      bridge.Chat{ID: -1001, Username: "ops"},
		Sender:    &bridge.Sender{ID: 3, FirstName: "Alice", Username: "alice"},
	})

	events := q.all()
	if len(events) != 1 {
		t.Fatalf("enqueued %d alerts, want 1", len(events))
	}
	ev := events[0]
	if ev.Keyword != "deploy" || ev.Source != "@ops" || ev.Sender != "Alice" || ev.SenderUsername != "alice" {
		t.Errorf("event = %+v", ev)
	}
	if ev.IdentityName != "First user" || ev.MessageID != 12 || !ev.At.Equal(date) || ev.ID == "" {
		t.Errorf("event metadata = %+v", ev)
	}
}

func TestIngester_SkipsEmptyAndUnmatched(t *testing.T) {
	t.Parallel()

	in, q, _, _ := setup(t, identity.Settings{Keywords: []string{"deploy"}})
	in.Handle(context.Background(), "user_1", bridge.Inbound{Text: "   "})
	in.Handle(context.Background(), "user_1", bridge.Inbound{Text: "lunch?"})
	in.Handle(context.Background(), "nobody", bridge.Inbound{Text: "deploy"})

	if n := len(q.all()); n != 0 {
		t.Fatalf("enqueued %d alerts, want 0", n)
	}
}

func TestIngester_CatchAll(t *testing.T) {
	t.Parallel()

	in, q, remote, _ := setup(t, identity.Settings{
		AutoReplyEnabled: true,
		AutoReplies:      map[string]string{"new message": "hi"},
	})
	in.Handle(context.Background(), "user_1", bridge.Inbound{Text: "hello", Chat: bridge.Chat{ID: 9, FirstName: "Bob"}})
	in.Wait()

	events := q.all()
	if len(events) != 1 || events[0].Keyword != CatchAll || events[0].Source != "conversation with Bob" {
		t.Fatalf("events = %+v", events)
	}
	if len(remote.Sent()) != 0 {
		t.Error("catch-all matches must not auto-reply")
	}
}

func TestIngester_AutoReply(t *testing.T) {
	t.Parallel()

	in, _, remote, rec := setup(t, identity.Settings{
		Keywords:         []string{"Price"},
		AutoReplyEnabled: true,
		AutoReplies:      map[string]string{"price": "Check your DMs"},
	})
	in.Handle(context.Background(), "user_1", bridge.Inbound{
		Text: "what is the price?",
		Chat: bridge.Chat{ID: 4, Title: "Market"},
		Peer: bridge.Peer{ID: 4, Username: "market"},
	})
	in.Wait()

	sent := remote.Sent()
	if len(sent) != 1 || sent[0].To != "market" || sent[0].Text != "Check your DMs" {
		t.Fatalf("sent = %+v", sent)
	}
	logs := rec.OfType(notify.TypeLogUpdate)
	if len(logs) != 1 || !strings.Contains(logs[0].Data.(notify.LogLine).Message, "Auto-reply sent") {
		t.Errorf("logs = %+v", logs)
	}
}

func TestIngester_AutoReplyDisabled(t *testing.T) {
	t.Parallel()

	in, q, remote, _ := setup(t, identity.Settings{
		Keywords:    []string{"price"},
		AutoReplies: map[string]string{"price": "Check your DMs"},
	})
	in.Handle(context.Background(), "user_1", bridge.Inbound{Text: "price?"})
	in.Wait()

	if len(q.all()) != 1 {
		t.Fatal("alert should still be raised")
	}
	if len(remote.Sent()) != 0 {
		t.Error("no reply expected when auto-reply is disabled")
	}
}

type panicQueue struct{}

func (panicQueue) Enqueue(alert.Event) bool { panic("queue exploded") }

func TestIngester_RecoversPanics(t *testing.T) {
	t.Parallel()

	in, _, _, _ := setup(t, identity.Settings{})
	in.queue = panicQueue{}
	in.Handle(context.Background(), "user_1", bridge.Inbound{Text: "boom"})
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	if cfg.ReplyDelayMin != time.Second || cfg.ReplyDelayMax != 3*time.Second {
		t.Errorf("delay window = %v..%v", cfg.ReplyDelayMin, cfg.ReplyDelayMax)
	}
	in := New(cfg, identity.NewRegistry(nil), &fakeQueue{}, nil, nil)
	for range 50 {
		if d := in.delay(); d < time.Second || d > 3*time.Second {
			t.Fatalf("delay %v outside window", d)
		}
	}
}
