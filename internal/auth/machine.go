// Package auth drives the login flow of an identity: phone, code, optional
// two-step password.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/notify"
	"github.com/flemzord/tgmonitor/internal/security"
)

// Status is the outcome class of a login step.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusCodeRequired     Status = "code_required"
	StatusPasswordRequired Status = "password_required"
	StatusError            Status = "error"
)

// Result is what a login step reports to the operator.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	// Wait is set when the network asked to retry later.
	Wait int `json:"wait_seconds,omitempty"`
}

var (
	ErrPhoneRequired      = errors.New("auth: phone number required")
	ErrCodeRequired       = errors.New("auth: code required")
	ErrNoCodeRequested    = errors.New("auth: no login code was requested")
	ErrNoPasswordRequired = errors.New("auth: no password was requested")
	ErrUnknownIdentity    = errors.New("auth: unknown identity")
)

// LoginStatus is the payload of login_status notifications.
type LoginStatus struct {
	LoggedIn         bool   `json:"logged_in"`
	Connected        bool   `json:"connected"`
	AwaitingCode     bool   `json:"awaiting_code"`
	AwaitingPassword bool   `json:"awaiting_password"`
	IsRunning        bool   `json:"is_running"`
	State            string `json:"state"`
}

// StatusOf summarizes an identity record for the UI.
func StatusOf(rec identity.Identity) LoginStatus {
	return LoginStatus{
		LoggedIn:         rec.State == identity.StateAuthenticated,
		Connected:        rec.Bridge != nil && rec.Bridge.Running(),
		AwaitingCode:     rec.State == identity.StateCodeRequested,
		AwaitingPassword: rec.State == identity.StatePasswordRequested,
		IsRunning:        rec.IsRunning,
		State:            rec.State.String(),
	}
}

// Options wires a Machine to the rest of the engine.
type Options struct {
	Bridge bridge.Config
	// Handler returns the inbound message handler installed on every new
	// bridge. Nil leaves bridges without one.
	Handler func(id string) bridge.Handler
	Limiter *security.RateLimiter
	Audit   *security.AuditLogger
	Sink    notify.Sink
	Logger  *slog.Logger
}

// Machine runs login transitions against the identity registry.
type Machine struct {
	registry *identity.Registry
	factory  bridge.Factory
	opts     Options
	logger   *slog.Logger
}

// New creates a Machine.
func New(registry *identity.Registry, factory bridge.Factory, opts Options) *Machine {
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Machine{
		registry: registry,
		factory:  factory,
		opts:     opts,
		logger:   opts.Logger.With("component", "auth"),
	}
}

// EnsureBridge returns the identity's bridge, creating it if needed. At
// most one live bridge exists per identity.
func (m *Machine) EnsureBridge(id string) (*bridge.Bridge, error) {
	return m.registry.AttachBridge(id, func() (*bridge.Bridge, error) {
		remote, err := m.factory.New(id)
		if err != nil {
			return nil, fmt.Errorf("auth: create session: %w", err)
		}
		b := bridge.New(id, remote, m.opts.Bridge, m.opts.Logger)
		if m.opts.Handler != nil {
			b.SetHandler(m.opts.Handler(id))
		}
		return b, nil
	})
}

// BeginLogin connects the identity's session for phone. An already
// authorized session logs in directly; otherwise a code is requested.
func (m *Machine) BeginLogin(ctx context.Context, id, phone string) (Result, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return m.fail(id, "a phone number is required", ErrPhoneRequired)
	}
	if err := m.allow(id); err != nil {
		return m.fail(id, "too many login attempts, wait a minute", err)
	}

	prev := m.registry.Ensure(id)
	if prev.Settings.Phone != "" && prev.Settings.Phone != phone {
		m.logger.Info("phone changed, discarding previous session", "identity", id, "phone", phone)
		m.teardown(id)
		prev, _ = m.registry.Get(id)
	}

	// Phone and pending login change only once the network accepted the
	// request, so a rate-limited retry leaves the previous step usable.
	m.registry.Update(id, func(rec *identity.Identity) error {
		rec.State = identity.StateConnecting
		rec.LastError = ""
		return nil
	})
	m.opts.Sink.Publish(notify.Log(id, "🔄 Connecting session..."))

	b, err := m.EnsureBridge(id)
	if err != nil {
		return m.failState(id, identity.StateFailed, "could not create the session", err)
	}
	if err := b.Start(ctx); err != nil {
		return m.failState(id, identity.StateFailed, "could not connect: "+err.Error(), err)
	}

	authorized, err := bridge.Call(ctx, b, "auth.status", func(ctx context.Context, r bridge.Remote) (bool, error) {
		return r.IsAuthorized(ctx)
	})
	if err != nil {
		return m.failState(id, identity.StateFailed, "could not check authorization: "+err.Error(), err)
	}
	if authorized {
		m.bindPhone(id, phone)
		return m.authenticated(id, "✅ Logged in")
	}

	m.opts.Sink.Publish(notify.Log(id, "📱 Sending login code to "+security.MaskPhone(phone)))
	hash, err := bridge.Call(ctx, b, "auth.request_code", func(ctx context.Context, r bridge.Remote) (string, error) {
		return r.RequestCode(ctx, phone)
	})
	if err != nil {
		if rl, ok := bridge.AsRateLimit(err); ok {
			m.restore(id, prev)
			return m.rateLimited(id, rl)
		}
		return m.failState(id, identity.StateFailed, "could not request a code: "+err.Error(), err)
	}

	rec, _ := m.registry.Update(id, func(rec *identity.Identity) error {
		rec.State = identity.StateCodeRequested
		rec.Settings.Phone = phone
		rec.Pending = identity.PendingAuth{Phone: phone, CodeHash: hash}
		return nil
	})
	m.opts.Audit.Log(security.AuditEvent{Type: security.EventCodeRequested, IdentityID: id, Metadata: map[string]string{"phone": phone}})
	m.opts.Sink.Publish(notify.New(id, notify.TypeLoginStatus, StatusOf(rec)))
	m.opts.Sink.Publish(notify.Log(id, "✅ Login code sent, check your messages"))
	return Result{Status: StatusCodeRequired, Message: "📱 Login code sent"}, nil
}

// SubmitCode completes a login with the code delivered to the account.
func (m *Machine) SubmitCode(ctx context.Context, id, code string) (Result, error) {
	code = strings.TrimSpace(code)
	rec, ok := m.registry.Get(id)
	if !ok || rec.State != identity.StateCodeRequested {
		return m.fail(id, "no login code was requested", ErrNoCodeRequested)
	}
	if code == "" {
		return m.fail(id, "the login code is required", ErrCodeRequired)
	}
	if err := m.allow(id); err != nil {
		return m.fail(id, "too many login attempts, wait a minute", err)
	}

	pending := rec.Pending
	err := m.submit(ctx, rec, "auth.sign_in", func(ctx context.Context, r bridge.Remote) error {
		return r.SignIn(ctx, pending.Phone, code, pending.CodeHash)
	})
	switch {
	case err == nil:
		return m.authenticated(id, "✅ Code accepted")
	case errors.Is(err, bridge.ErrPasswordNeeded):
		rec, _ := m.registry.Update(id, func(rec *identity.Identity) error {
			rec.State = identity.StatePasswordRequested
			return nil
		})
		m.opts.Sink.Publish(notify.New(id, notify.TypeLoginStatus, StatusOf(rec)))
		return Result{Status: StatusPasswordRequired, Message: "🔒 Enter your two-step verification password"}, nil
	case errors.Is(err, bridge.ErrCodeInvalid):
		return m.rejected(id, "❌ Invalid login code", err)
	case errors.Is(err, bridge.ErrCodeExpired):
		return m.rejected(id, "❌ The login code has expired", err)
	}
	return m.stepError(id, err)
}

// SubmitPassword completes a login that requires a two-step password.
func (m *Machine) SubmitPassword(ctx context.Context, id, password string) (Result, error) {
	rec, ok := m.registry.Get(id)
	if !ok || rec.State != identity.StatePasswordRequested {
		return m.fail(id, "no password was requested", ErrNoPasswordRequired)
	}
	if err := m.allow(id); err != nil {
		return m.fail(id, "too many login attempts, wait a minute", err)
	}

	err := m.submit(ctx, rec, "auth.password", func(ctx context.Context, r bridge.Remote) error {
		return r.SignInPassword(ctx, password)
	})
	switch {
	case err == nil:
		return m.authenticated(id, "✅ Password accepted")
	case errors.Is(err, bridge.ErrPasswordInvalid):
		return m.rejected(id, "❌ Invalid password", err)
	}
	return m.stepError(id, err)
}

// Logout ends the identity's session: monitoring stops, the bridge is
// closed, the persisted session is deleted and the record removed. The
// removed record is returned so the caller can update persisted settings.
func (m *Machine) Logout(id string) (identity.Identity, bool) {
	m.teardown(id)
	rec, ok := m.registry.Remove(id)
	if m.opts.Limiter != nil {
		m.opts.Limiter.Forget(id)
	}

	m.opts.Audit.Log(security.AuditEvent{Type: security.EventLogout, IdentityID: id})
	m.opts.Sink.Publish(notify.Log(id, "🚪 Logged out and session closed"))
	m.opts.Sink.Publish(notify.New(id, notify.TypeConnectionStatus, notify.Status{State: "disconnected"}))
	m.opts.Sink.Publish(notify.New(id, notify.TypeLoginStatus, LoginStatus{State: identity.StateUnbound.String()}))
	return rec, ok
}

// Reset is Logout restricted to the configured identity slots.
func (m *Machine) Reset(id string) (identity.Identity, error) {
	if !m.isProfile(id) {
		return identity.Identity{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	rec, _ := m.Logout(id)
	return rec, nil
}

func (m *Machine) isProfile(id string) bool {
	for _, p := range m.registry.Profiles() {
		if p.ID == id {
			return true
		}
	}
	return false
}

// teardown stops monitoring and the bridge and forgets the stored session.
func (m *Machine) teardown(id string) {
	m.registry.UpdateExisting(id, func(rec *identity.Identity) error {
		rec.IsRunning = false
		rec.Pending = identity.PendingAuth{}
		rec.State = identity.StateDisconnected
		return nil
	})
	if b := m.registry.DetachBridge(id); b != nil {
		b.Stop()
	}
	if err := m.factory.Forget(id); err != nil {
		m.logger.Warn("could not delete stored session", "identity", id, "error", err)
	}
}

func (m *Machine) submit(ctx context.Context, rec identity.Identity, name string, op bridge.Op) error {
	if rec.Bridge == nil {
		return bridge.ErrNotRunning
	}
	start := time.Now()
	err := rec.Bridge.Submit(ctx, name, op)
	m.logger.Debug("login step finished", "identity", rec.ID, "op", name, "duration", time.Since(start), "error", err)
	return err
}

func (m *Machine) allow(id string) error {
	if m.opts.Limiter == nil {
		return nil
	}
	if err := m.opts.Limiter.Allow(security.KindLogin, id); err != nil {
		m.opts.Audit.Log(security.AuditEvent{Type: security.EventRateLimit, IdentityID: id, Detail: security.KindLogin})
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (m *Machine) authenticated(id, message string) (Result, error) {
	rec, _ := m.registry.Update(id, func(rec *identity.Identity) error {
		rec.State = identity.StateAuthenticated
		rec.Pending = identity.PendingAuth{}
		rec.LastError = ""
		return nil
	})
	m.opts.Audit.Log(security.AuditEvent{Type: security.EventAuthSuccess, IdentityID: id})
	m.logger.Info("identity authenticated", "identity", id)
	m.opts.Sink.Publish(notify.New(id, notify.TypeLoginStatus, StatusOf(rec)))
	m.opts.Sink.Publish(notify.New(id, notify.TypeConnectionStatus, notify.Status{State: "connected"}))
	return Result{Status: StatusSuccess, Message: message}, nil
}

// rejected reports a bad credential. State and pending login are unchanged.
func (m *Machine) rejected(id, message string, err error) (Result, error) {
	m.opts.Audit.Log(security.AuditEvent{Type: security.EventAuthFailure, IdentityID: id, Detail: err.Error()})
	m.opts.Sink.Publish(notify.Log(id, message))
	return Result{Status: StatusError, Message: message}, err
}

// stepError handles failures of code or password submission other than a
// rejected credential.
func (m *Machine) stepError(id string, err error) (Result, error) {
	if rl, ok := bridge.AsRateLimit(err); ok {
		return m.rateLimited(id, rl)
	}
	if errors.Is(err, bridge.ErrNotRunning) {
		return m.failState(id, identity.StateDisconnected, "the session is no longer connected, start the login again", err)
	}
	return m.fail(id, "❌ "+err.Error(), err)
}

func (m *Machine) rateLimited(id string, rl *bridge.RateLimitError) (Result, error) {
	wait := int(rl.Wait / time.Second)
	msg := fmt.Sprintf("⚠️ Too many attempts, retry in %d seconds", wait)
	m.opts.Audit.Log(security.AuditEvent{Type: security.EventRateLimit, IdentityID: id, Detail: rl.Error()})
	m.opts.Sink.Publish(notify.Log(id, msg))
	return Result{Status: StatusError, Message: msg, Wait: wait}, rl
}

// fail reports an error without changing state.
func (m *Machine) fail(id, message string, err error) (Result, error) {
	m.logger.Warn("login step failed", "identity", id, "error", err)
	return Result{Status: StatusError, Message: message}, err
}

func (m *Machine) failState(id string, state identity.State, message string, err error) (Result, error) {
	rec, _ := m.registry.Update(id, func(rec *identity.Identity) error {
		rec.State = state
		rec.LastError = message
		return nil
	})
	m.opts.Audit.Log(security.AuditEvent{Type: security.EventAuthFailure, IdentityID: id, Detail: err.Error()})
	m.opts.Sink.Publish(notify.New(id, notify.TypeLoginStatus, StatusOf(rec)))
	m.opts.Sink.Publish(notify.Log(id, "❌ "+message))
	return m.fail(id, message, err)
}

func (m *Machine) bindPhone(id, phone string) {
	m.registry.Update(id, func(rec *identity.Identity) error {
		rec.Settings.Phone = phone
		return nil
	})
}

// restore puts back the login fields BeginLogin touched before it was
// interrupted.
func (m *Machine) restore(id string, prev identity.Identity) {
	m.registry.Update(id, func(rec *identity.Identity) error {
		rec.State = prev.State
		rec.LastError = prev.LastError
		return nil
	})
}
