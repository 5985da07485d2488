package bridge

import (
	"context"
	"time"
)

// Peer is a resolved conversation on the messaging network.
type Peer struct {
	ID       int64
	Username string
	Title    string
	// Broadcast is set for channels and supergroups, which are joined
	// directly rather than through an invite.
	Broadcast bool
	// Ref carries the implementation-specific handle used to address the peer.
	Ref any
}

// Self addresses the identity's own saved-messages conversation.
var Self = Peer{Username: "me"}

// Chat describes where an inbound message was posted.
type Chat struct {
	ID        int64
	Username  string
	Title     string
	FirstName string
	// Public is set when the chat is a channel or supergroup whose
	// messages can be linked to.
	Public bool
}

// Sender describes who posted an inbound message. Nil fields are unknown.
type Sender struct {
	ID        int64
	FirstName string
	Username  string
}

// Inbound is a new message observed on a remote session.
type Inbound struct {
	MessageID int
	Text      string
	Date      time.Time
	Chat      Chat
	Sender    *Sender
	// Peer addresses the chat for replies.
	Peer Peer
}

// Remote is a live session with the messaging network bound to one account.
// Implementations are not required to be safe for concurrent use: a Bridge
// serialises every call onto a single goroutine.
type Remote interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	IsAuthorized(ctx context.Context) (bool, error)
	// RequestCode asks the network to deliver a login code to phone and
	// returns the correlation hash that SignIn needs.
	RequestCode(ctx context.Context, phone string) (string, error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	SignInPassword(ctx context.Context, password string) error

	Resolve(ctx context.Context, handle string) (Peer, error)
	SendText(ctx context.Context, to Peer, text string) (int, error)
	// SendHTML sends text formatted with the HTML subset the network
	// understands (b, i, a, code, pre).
	SendHTML(ctx context.Context, to Peer, html string) (int, error)
	SendPhoto(ctx context.Context, to Peer, path, caption string) (int, error)
	JoinChannel(ctx context.Context, p Peer) error
	ImportInvite(ctx context.Context, hash string) error

	// OnMessage registers the handler for incoming messages. It is called
	// before Connect.
	OnMessage(fn func(ctx context.Context, msg Inbound))
}

// Factory creates remote sessions and owns their on-disk state.
type Factory interface {
	New(identityID string) (Remote, error)
	// Forget deletes the persisted session for identityID. Missing state
	// is not an error.
	Forget(identityID string) error
}
