// Package bridgetest provides an in-memory Remote for tests.
package bridgetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

// Sent records one outbound message.
type Sent struct {
	To      string
	Text    string
	HTML    bool
	Photo   string
	Caption string
}

// Remote is a scriptable bridge.Remote. Zero values behave like an
// authorized session where every handle resolves and every send succeeds.
// Fields ending in Err may be set before use; they are read under lock.
type Remote struct {
	mu sync.Mutex

	ConnectErr  error
	// ConnectGate, when set, blocks Connect until it is closed.
	ConnectGate chan struct{}
	Authorized  bool
	AuthErr     error
	CodeHash    string
	RequestErr  error
	SignInErr   error
	PasswordErr error

	// Unknown lists handles that fail to resolve, compared verbatim.
	Unknown map[string]bool
	// FailSend lists usernames whose sends fail.
	FailSend map[string]error
	JoinErr  error

	Connects    int
	Disconnects int
	SignIns     []string
	Passwords   []string
	Joined      []string
	Invites     []string
	sent        []Sent
	nextID      int
	handler     func(context.Context, bridge.Inbound)
}

var _ bridge.Remote = (*Remote)(nil)

// NewRemote returns an authorized fake session.
func NewRemote() *Remote {
	return &Remote{Authorized: true, CodeHash: "hash-1"}
}

func (r *Remote) Connect(ctx context.Context) error {
	r.mu.Lock()
	r.Connects++
	gate, err := r.ConnectGate, r.ConnectErr
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// ConnectCount returns how many times Connect was called.
func (r *Remote) ConnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Connects
}

// DisconnectCount returns how many times Disconnect was called.
func (r *Remote) DisconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Disconnects
}

func (r *Remote) Disconnect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Disconnects++
	return nil
}

func (r *Remote) IsAuthorized(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Authorized, r.AuthErr
}

func (r *Remote) RequestCode(_ context.Context, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RequestErr != nil {
		return "", r.RequestErr
	}
	return r.CodeHash, nil
}

func (r *Remote) SignIn(_ context.Context, _ string, code, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SignIns = append(r.SignIns, code+"/"+hash)
	if r.SignInErr != nil {
		return r.SignInErr
	}
	r.Authorized = true
	return nil
}

func (r *Remote) SignInPassword(_ context.Context, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Passwords = append(r.Passwords, password)
	if r.PasswordErr != nil {
		return r.PasswordErr
	}
	r.Authorized = true
	return nil
}

func (r *Remote) Resolve(_ context.Context, handle string) (bridge.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Unknown[handle] {
		return bridge.Peer{}, fmt.Errorf("resolve %q: %w", handle, bridge.ErrPeerNotFound)
	}
	name := strings.TrimPrefix(handle, "@")
	return bridge.Peer{Username: name, Title: name, Broadcast: strings.HasPrefix(name, "channel")}, nil
}

func (r *Remote) SendText(_ context.Context, to bridge.Peer, text string) (int, error) {
	return r.record(Sent{To: to.Username, Text: text})
}

func (r *Remote) SendHTML(_ context.Context, to bridge.Peer, html string) (int, error) {
	return r.record(Sent{To: to.Username, Text: html, HTML: true})
}

func (r *Remote) SendPhoto(_ context.Context, to bridge.Peer, path, caption string) (int, error) {
	return r.record(Sent{To: to.Username, Photo: path, Caption: caption})
}

func (r *Remote) record(s Sent) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.FailSend[s.To]; ok {
		if err == nil {
			err = errors.New("send failed")
		}
		return 0, err
	}
	r.nextID++
	r.sent = append(r.sent, s)
	return r.nextID, nil
}

func (r *Remote) JoinChannel(_ context.Context, p bridge.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Joined = append(r.Joined, p.Username)
	return r.JoinErr
}

func (r *Remote) ImportInvite(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Invites = append(r.Invites, hash)
	return r.JoinErr
}

func (r *Remote) OnMessage(fn func(context.Context, bridge.Inbound)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

// Emit delivers msg as if it arrived from the network.
func (r *Remote) Emit(ctx context.Context, msg bridge.Inbound) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

// Sent returns a copy of the outbound messages so far.
func (r *Remote) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Set runs fn under the fake's lock, for changing behaviour mid-test.
func (r *Remote) Set(fn func(r *Remote)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// Factory hands out Remotes and records forgotten sessions.
type Factory struct {
	mu        sync.Mutex
	NewRemote func(id string) *Remote
	NewErr    error
	created   map[string][]*Remote
	forgotten []string
}

var _ bridge.Factory = (*Factory)(nil)

// NewFactory returns a Factory producing authorized fakes.
func NewFactory() *Factory {
	return &Factory{created: make(map[string][]*Remote)}
}

func (f *Factory) New(id string) (bridge.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	var r *Remote
	if f.NewRemote != nil {
		r = f.NewRemote(id)
	} else {
		r = NewRemote()
	}
	f.created[id] = append(f.created[id], r)
	return r, nil
}

func (f *Factory) Forget(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
	return nil
}

// Last returns the most recent Remote created for id.
func (f *Factory) Last(id string) *Remote {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.created[id]
	if len(rs) == 0 {
		return nil
	}
	return rs[len(rs)-1]
}

// Created returns how many Remotes were created for id.
func (f *Factory) Created(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created[id])
}

// Forgotten returns the identities whose sessions were forgotten.
func (f *Factory) Forgotten() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forgotten...)
}
