package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/notify"
)

// ErrInviteOnly is returned when a public handle names a basic group, which
// can only be joined through an invite link.
var ErrInviteOnly = errors.New("broadcast: basic groups can only be joined with an invite link")

// JoinResult is the outcome of a successful join.
type JoinResult struct {
	AlreadyJoined bool   `json:"already_joined"`
	Message       string `json:"message"`
}

// Target is a parsed join link: either an invite hash or a public handle.
type Target struct {
	Invite string
	Handle string
}

// ParseLink understands t.me and telegram.me links, +hash and joinchat/
// invites, @handles and bare handles.
func ParseLink(link string) (Target, error) {
	s := strings.TrimSpace(link)
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, prefix := range []string{"t.me/", "telegram.me/"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, "/")

	switch {
	case strings.HasPrefix(s, "+"):
		s = strings.TrimPrefix(s, "+")
		if s == "" {
			break
		}
		return Target{Invite: s}, nil
	case strings.HasPrefix(s, "joinchat/"):
		s = strings.TrimPrefix(s, "joinchat/")
		if s == "" {
			break
		}
		return Target{Invite: s}, nil
	default:
		s = strings.TrimPrefix(s, "@")
		if s != "" && !strings.ContainsAny(s, "/ ") {
			return Target{Handle: s}, nil
		}
	}
	return Target{}, fmt.Errorf("broadcast: unrecognized link %q: %w", link, bridge.ErrInviteInvalid)
}

// Join makes the identity a member of the chat named by link.
func (b *Broadcaster) Join(ctx context.Context, id, link string) (JoinResult, error) {
	target, err := ParseLink(link)
	if err != nil {
		return JoinResult{}, err
	}
	br, err := b.bridgeOf(id)
	if err != nil {
		return JoinResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()

	err = br.Submit(ctx, "broadcast.join", func(ctx context.Context, r bridge.Remote) error {
		if target.Invite != "" {
			return r.ImportInvite(ctx, target.Invite)
		}
		peer, err := r.Resolve(ctx, "@"+target.Handle)
		if err != nil {
			return err
		}
		if !peer.Broadcast {
			return ErrInviteOnly
		}
		return r.JoinChannel(ctx, peer)
	})

	switch {
	case err == nil:
		b.sink.Publish(notify.Log(id, "✅ Joined "+link))
		return JoinResult{Message: "joined"}, nil
	case errors.Is(err, bridge.ErrAlreadyMember):
		return JoinResult{AlreadyJoined: true, Message: "already a member"}, nil
	}
	b.logger.Warn("join failed", "identity", id, "link", link, "error", err)
	return JoinResult{}, fmt.Errorf("broadcast: join %s: %w", link, err)
}

// JoinMessage is the user-facing reason for a join failure.
func JoinMessage(err error) string {
	var rl *bridge.RateLimitError
	switch {
	case errors.As(err, &rl):
		return fmt.Sprintf("please wait %d seconds", int(rl.Wait/time.Second))
	case errors.Is(err, bridge.ErrInviteExpired):
		return "the invite link has expired"
	case errors.Is(err, bridge.ErrInviteInvalid):
		return "the invite link is invalid"
	case errors.Is(err, ErrInviteOnly):
		return "this group needs an invite link"
	case errors.Is(err, ErrNotConnected):
		return "log in first"
	default:
		return "join failed: " + err.Error()
	}
}
