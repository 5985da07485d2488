package broadcast_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/bridge/bridgetest"
	"github.com/flemzord/tgmonitor/internal/broadcast"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/notify"
	"github.com/flemzord/tgmonitor/internal/notify/notifytest"
)

func setup(t *testing.T, cfg broadcast.Config) (*broadcast.Broadcaster, *identity.Registry, *bridgetest.Remote, *notifytest.Recorder) {
	t.Helper()

	reg := identity.NewRegistry(nil)
	remote := bridgetest.NewRemote()
	b := bridge.New("user_1", remote, bridge.Config{}, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Stop)
	_, _ = reg.Update("user_1", func(rec *identity.Identity) error {
		rec.Bridge = b
		rec.State = identity.StateAuthenticated
		return nil
	})

	if cfg.Pace == 0 {
		cfg.Pace = -1
	}
	rec := notifytest.NewRecorder()
	return broadcast.New(cfg, reg, rec, nil), reg, remote, rec
}

func writeImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\x89PNG"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSend_PartialFailure(t *testing.T) {
	t.Parallel()

	bc, reg, remote, rec := setup(t, broadcast.Config{})
	remote.FailSend = map[string]error{"B": errors.New("CHAT_WRITE_FORBIDDEN: can't write")}

	report, err := bc.Send(context.Background(), "user_1", broadcast.Request{
		Message:      "hello",
		Destinations: []string{"A", "B", "C"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Sent != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := []bool{report.Results[0].OK, report.Results[1].OK, report.Results[2].OK}; !slices.Equal(got, []bool{true, false, true}) {
		t.Errorf("results = %+v", report.Results)
	}

	id, _ := reg.Get("user_1")
	if id.Stats != (identity.Stats{Sent: 2, Errors: 1}) {
		t.Errorf("stats = %+v", id.Stats)
	}
	var to []string
	for _, s := range remote.Sent() {
		to = append(to, s.To)
	}
	if !slices.Equal(to, []string{"A", "C"}) {
		t.Errorf("delivered to %v", to)
	}
	if n := len(rec.OfType(notify.TypeStatsUpdate)); n != 3 {
		t.Errorf("stats updates = %d, want 3", n)
	}
}

func TestSend_ResolveRetriesWithAt(t *testing.T) {
	t.Parallel()

	bc, _, remote, _ := setup(t, broadcast.Config{})
	remote.Unknown = map[string]bool{"golang": true}

	report, err := bc.Send(context.Background(), "user_1", broadcast.Request{
		Message:      "hi",
		Destinations: []string{"golang"},
	})
	if err != nil || report.Sent != 1 {
		t.Fatalf("Send = %+v, %v", report, err)
	}

	remote.Set(func(r *bridgetest.Remote) { r.Unknown = map[string]bool{"nowhere": true, "@nowhere": true} })
	report, err = bc.Send(context.Background(), "user_1", broadcast.Request{
		Message:      "hi",
		Destinations: []string{"nowhere"},
	})
	if err != nil || report.Failed != 1 {
		t.Fatalf("Send = %+v, %v", report, err)
	}
}

func TestSend_SingleImageUsesCaption(t *testing.T) {
	t.Parallel()

	bc, _, remote, _ := setup(t, broadcast.Config{})
	img := writeImage(t, "a.png")

	if _, err := bc.Send(context.Background(), "user_1", broadcast.Request{
		Message:      "look",
		Images:       []broadcast.Image{{Path: img}},
		Destinations: []string{"A"},
	}); err != nil {
		t.Fatal(err)
	}
	sent := remote.Sent()
	if len(sent) != 1 || sent[0].Photo != img || sent[0].Caption != "look" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSend_MultipleImages(t *testing.T) {
	t.Parallel()

	bc, _, remote, _ := setup(t, broadcast.Config{})
	a, b := writeImage(t, "a.png"), writeImage(t, "b.png")

	if _, err := bc.Send(context.Background(), "user_1", broadcast.Request{
		Message:      "album",
		Images:       []broadcast.Image{{Path: a}, {Path: "/does/not/exist.png"}, {Path: b}},
		Destinations: []string{"A"},
	}); err != nil {
		t.Fatal(err)
	}
	sent := remote.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3: %+v", len(sent), sent)
	}
	if sent[0].Text != "album" {
		t.Errorf("first message = %+v, want text", sent[0])
	}
	if sent[1].Caption != "📷 Image 1 of 2" || sent[2].Caption != "📷 Image 2 of 2" {
		t.Errorf("captions = %q, %q", sent[1].Caption, sent[2].Caption)
	}
}

func TestSend_Validation(t *testing.T) {
	t.Parallel()

	bc, _, _, _ := setup(t, broadcast.Config{})
	ctx := context.Background()

	if _, err := bc.Send(ctx, "user_1", broadcast.Request{Message: "x"}); !errors.Is(err, broadcast.ErrNoDestinations) {
		t.Errorf("no destinations: %v", err)
	}
	if _, err := bc.Send(ctx, "user_1", broadcast.Request{Message: "  ", Destinations: []string{"A"}}); !errors.Is(err, broadcast.ErrEmpty) {
		t.Errorf("empty: %v", err)
	}
	if _, err := bc.Send(ctx, "user_9", broadcast.Request{Message: "x", Destinations: []string{"A"}}); !errors.Is(err, broadcast.ErrNotConnected) {
		t.Errorf("not connected: %v", err)
	}
}

func TestSend_SplitsDestinations(t *testing.T) {
	t.Parallel()

	bc, _, remote, _ := setup(t, broadcast.Config{})
	report, err := bc.Send(context.Background(), "user_1", broadcast.Request{
		Message:      "x",
		Destinations: []string{"A, B\nC", "  "},
	})
	if err != nil || report.Sent != 3 || len(remote.Sent()) != 3 {
		t.Fatalf("Send = %+v, %v", report, err)
	}
}

func TestSend_Paced(t *testing.T) {
	t.Parallel()

	bc, _, _, _ := setup(t, broadcast.Config{Pace: 40 * time.Millisecond})
	start := time.Now()
	if _, err := bc.Send(context.Background(), "user_1", broadcast.Request{
		Message:      "x",
		Destinations: []string{"A", "B", "C"},
	}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("three destinations took %v, want pacing", elapsed)
	}
}

func TestSend_CancelledWhilePacing(t *testing.T) {
	t.Parallel()

	bc, _, _, _ := setup(t, broadcast.Config{Pace: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := bc.Send(ctx, "user_1", broadcast.Request{Message: "x", Destinations: []string{"A", "B"}})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if report.Sent != 1 {
		t.Errorf("report = %+v, want first destination sent", report)
	}
}
