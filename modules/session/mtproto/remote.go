package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

var errNotConnected = errors.New("mtproto: not connected")

// Remote implements bridge.Remote with a gotd client. The client runs on
// its own goroutine between Connect and Disconnect.
type Remote struct {
	opts   telegram.Options
	cfg    Config
	logger *slog.Logger

	handler func(ctx context.Context, msg bridge.Inbound)

	client *telegram.Client
	api    *tg.Client
	peers  *peers.Manager
	sender *message.Sender

	cancel context.CancelFunc
	done   chan error
}

var _ bridge.Remote = (*Remote)(nil)

func newRemote(opts telegram.Options, cfg Config, logger *slog.Logger) *Remote {
	return &Remote{opts: opts, cfg: cfg, logger: logger}
}

// OnMessage implements bridge.Remote.
func (r *Remote) OnMessage(fn func(ctx context.Context, msg bridge.Inbound)) {
	r.handler = fn
}

// Connect starts the client and returns once the connection is usable.
func (r *Remote) Connect(ctx context.Context) error {
	if r.client != nil {
		return nil
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		r.emit(ctx, e, u.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		r.emit(ctx, e, u.Message)
		return nil
	})

	opts := r.opts
	opts.UpdateHandler = dispatcher
	client := telegram.NewClient(r.cfg.AppID, r.cfg.AppHash, opts)

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		return mapError("connect", err)
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("mtproto: connect: %w", ctx.Err())
	}

	r.client = client
	r.api = client.API()
	r.peers = peers.Options{}.Build(r.api)
	r.sender = message.NewSender(r.api)
	r.cancel = cancel
	r.done = done
	r.logger.Debug("mtproto client connected")
	return nil
}

// Disconnect stops the client and waits for it to exit or for ctx.
func (r *Remote) Disconnect(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	r.cancel()
	defer func() { r.client = nil }()
	select {
	case err := <-r.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return mapError("disconnect", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mtproto: disconnect: %w", ctx.Err())
	}
}

func (r *Remote) IsAuthorized(ctx context.Context) (bool, error) {
	if r.client == nil {
		return false, errNotConnected
	}
	status, err := r.client.Auth().Status(ctx)
	if err != nil {
		return false, mapError("auth status", err)
	}
	return status.Authorized, nil
}

func (r *Remote) RequestCode(ctx context.Context, phone string) (string, error) {
	if r.client == nil {
		return "", errNotConnected
	}
	sent, err := r.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", mapError("send code", err)
	}
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return s.PhoneCodeHash, nil
	case *tg.AuthSentCodeSuccess:
		// Already signed in through a future-auth token.
		return "", nil
	default:
		return "", fmt.Errorf("mtproto: send code: unexpected response %T", sent)
	}
}

func (r *Remote) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if r.client == nil {
		return errNotConnected
	}
	_, err := r.client.Auth().SignIn(ctx, phone, code, codeHash)
	return mapError("sign in", err)
}

func (r *Remote) SignInPassword(ctx context.Context, password string) error {
	if r.client == nil {
		return errNotConnected
	}
	_, err := r.client.Auth().Password(ctx, password)
	return mapError("password", err)
}

// Resolve accepts "@handle", "handle", t.me links, and numeric chat ids
// ("-100…" for channels, negative for basic groups, positive for users).
func (r *Remote) Resolve(ctx context.Context, handle string) (bridge.Peer, error) {
	if r.peers == nil {
		return bridge.Peer{}, errNotConnected
	}
	handle = strings.TrimSpace(handle)
	if handle == "me" || handle == "@me" {
		return bridge.Self, nil
	}

	var (
		p   peers.Peer
		err error
	)
	if id, convErr := strconv.ParseInt(handle, 10, 64); convErr == nil {
		p, err = r.resolveID(ctx, id)
	} else {
		p, err = r.peers.Resolve(ctx, handle)
	}
	if err != nil {
		return bridge.Peer{}, mapError("resolve "+handle, err)
	}
	return toPeer(p), nil
}

func (r *Remote) resolveID(ctx context.Context, id int64) (peers.Peer, error) {
	const channelOffset = -1000000000000
	switch {
	case id < channelOffset:
		return r.peers.ResolveChannelID(ctx, channelOffset-id)
	case id < 0:
		return r.peers.ResolveChatID(ctx, -id)
	default:
		return r.peers.ResolveUserID(ctx, id)
	}
}

func toPeer(p peers.Peer) bridge.Peer {
	out := bridge.Peer{
		ID:    p.ID(),
		Title: p.VisibleName(),
		Ref:   p.InputPeer(),
	}
	out.Username, _ = p.Username()
	if _, ok := p.(peers.Channel); ok {
		out.Broadcast = true
	}
	return out
}

// inputPeer returns the resolved reference of p. Only bridge.Self may go
// without one.
func inputPeer(p bridge.Peer) (tg.InputPeerClass, error) {
	if ref, ok := p.Ref.(tg.InputPeerClass); ok && ref != nil {
		return ref, nil
	}
	if p.Ref == nil && p.Username == bridge.Self.Username {
		return &tg.InputPeerSelf{}, nil
	}
	return nil, fmt.Errorf("mtproto: %w: %q is not resolved", bridge.ErrPeerNotFound, peerName(p))
}

func peerName(p bridge.Peer) string {
	switch {
	case p.Username != "":
		return p.Username
	case p.Title != "":
		return p.Title
	default:
		return strconv.FormatInt(p.ID, 10)
	}
}

func (r *Remote) SendText(ctx context.Context, to bridge.Peer, text string) (int, error) {
	if r.sender == nil {
		return 0, errNotConnected
	}
	peer, err := inputPeer(to)
	if err != nil {
		return 0, err
	}
	u, err := r.sender.To(peer).Text(ctx, text)
	if err != nil {
		return 0, mapError("send text", err)
	}
	return sentMessageID(u), nil
}

func (r *Remote) SendHTML(ctx context.Context, to bridge.Peer, body string) (int, error) {
	if r.sender == nil {
		return 0, errNotConnected
	}
	peer, err := inputPeer(to)
	if err != nil {
		return 0, err
	}
	u, err := r.sender.To(peer).StyledText(ctx, html.String(nil, body))
	if err != nil {
		return 0, mapError("send html", err)
	}
	return sentMessageID(u), nil
}

func (r *Remote) SendPhoto(ctx context.Context, to bridge.Peer, path, caption string) (int, error) {
	if r.sender == nil {
		return 0, errNotConnected
	}
	peer, err := inputPeer(to)
	if err != nil {
		return 0, err
	}
	file, err := uploader.NewUploader(r.api).FromPath(ctx, path)
	if err != nil {
		return 0, mapError("upload "+path, err)
	}
	var captionOpts []styling.StyledTextOption
	if caption != "" {
		captionOpts = append(captionOpts, styling.Plain(caption))
	}
	u, err := r.sender.To(peer).Media(ctx, message.UploadedPhoto(file, captionOpts...))
	if err != nil {
		return 0, mapError("send photo", err)
	}
	return sentMessageID(u), nil
}

func (r *Remote) JoinChannel(ctx context.Context, p bridge.Peer) error {
	if r.api == nil {
		return errNotConnected
	}
	ref, err := inputPeer(p)
	if err != nil {
		return err
	}
	ch, ok := ref.(*tg.InputPeerChannel)
	if !ok {
		return fmt.Errorf("mtproto: join: %q is not a channel", p.Username)
	}
	_, err = r.api.ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ChannelID,
		AccessHash: ch.AccessHash,
	})
	return mapError("join channel", err)
}

func (r *Remote) ImportInvite(ctx context.Context, hash string) error {
	if r.api == nil {
		return errNotConnected
	}
	_, err := r.api.MessagesImportChatInvite(ctx, hash)
	return mapError("import invite", err)
}

func (r *Remote) emit(ctx context.Context, e tg.Entities, m tg.MessageClass) {
	if r.handler == nil {
		return
	}
	in, ok := inbound(e, m)
	if !ok {
		return
	}
	r.handler(ctx, in)
}

// sentMessageID extracts the new message id from a send response, or 0.
func sentMessageID(u tg.UpdatesClass) int {
	switch v := u.(type) {
	case *tg.UpdateShortSentMessage:
		return v.ID
	case *tg.Updates:
		return idFromUpdates(v.Updates)
	case *tg.UpdatesCombined:
		return idFromUpdates(v.Updates)
	}
	return 0
}

func idFromUpdates(updates []tg.UpdateClass) int {
	for _, upd := range updates {
		switch v := upd.(type) {
		case *tg.UpdateMessageID:
			return v.ID
		case *tg.UpdateNewMessage:
			return v.Message.GetID()
		case *tg.UpdateNewChannelMessage:
			return v.Message.GetID()
		}
	}
	return 0
}
