package broadcast_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/bridge/bridgetest"
	"github.com/flemzord/tgmonitor/internal/broadcast"
)

func TestParseLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		link string
		want broadcast.Target
		err  bool
	}{
		{"https://t.me/+AbCdEf", broadcast.Target{Invite: "AbCdEf"}, false},
		{"t.me/joinchat/XyZ", broadcast.Target{Invite: "XyZ"}, false},
		{"https://telegram.me/golang/", broadcast.Target{Handle: "golang"}, false},
		{"@golang", broadcast.Target{Handle: "golang"}, false},
		{"golang", broadcast.Target{Handle: "golang"}, false},
		{"https://t.me/+", broadcast.Target{}, true},
		{"https://t.me/golang/123", broadcast.Target{}, true},
		{"", broadcast.Target{}, true},
	}
	for _, tt := range tests {
		got, err := broadcast.ParseLink(tt.link)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseLink(%q) = %+v, %v", tt.link, got, err)
		}
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	bc, _, remote, _ := setup(t, broadcast.Config{})
	ctx := context.Background()

	if res, err := bc.Join(ctx, "user_1", "https://t.me/+AbC"); err != nil || res.AlreadyJoined {
		t.Fatalf("invite join = %+v, %v", res, err)
	}
	if res, err := bc.Join(ctx, "user_1", "@channel_news"); err != nil || res.AlreadyJoined {
		t.Fatalf("channel join = %+v, %v", res, err)
	}
	if _, err := bc.Join(ctx, "user_1", "@friends"); !errors.Is(err, broadcast.ErrInviteOnly) {
		t.Fatalf("basic group join = %v, want ErrInviteOnly", err)
	}

	remote.Set(func(r *bridgetest.Remote) {
		if len(r.Invites) != 1 || r.Invites[0] != "AbC" || len(r.Joined) != 1 || r.Joined[0] != "channel_news" {
			t.Errorf("invites = %v, joined = %v", r.Invites, r.Joined)
		}
		r.JoinErr = bridge.ErrAlreadyMember
	})
	if res, err := bc.Join(ctx, "user_1", "@channel_news"); err != nil || !res.AlreadyJoined {
		t.Fatalf("already member = %+v, %v", res, err)
	}

	remote.Set(func(r *bridgetest.Remote) { r.JoinErr = bridge.ErrInviteExpired })
	_, err := bc.Join(ctx, "user_1", "t.me/+old")
	if !errors.Is(err, bridge.ErrInviteExpired) || broadcast.JoinMessage(err) != "the invite link has expired" {
		t.Fatalf("expired invite = %v", err)
	}
}

func TestJoinMessage(t *testing.T) {
	t.Parallel()

	err := &bridge.RateLimitError{Wait: 42 * time.Second}
	if got := broadcast.JoinMessage(err); got != "please wait 42 seconds" {
		t.Errorf("JoinMessage = %q", got)
	}
	if got := broadcast.JoinMessage(errors.New("boom")); !strings.HasPrefix(got, "join failed") {
		t.Errorf("JoinMessage = %q", got)
	}
}
