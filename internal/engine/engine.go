// Package engine assembles the identity registry, login flow, alert
// pipeline, monitoring loops and broadcasts into the operations exposed to
// operators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/tgmonitor/internal/alert"
	"github.com/flemzord/tgmonitor/internal/auth"
	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/broadcast"
	"github.com/flemzord/tgmonitor/internal/cron"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/ingest"
	"github.com/flemzord/tgmonitor/internal/notify"
	"github.com/flemzord/tgmonitor/internal/security"
	"github.com/flemzord/tgmonitor/internal/store"
	"github.com/flemzord/tgmonitor/internal/supervisor"
)

const (
	statsFlushJob  = "stats.flush"
	restoreTimeout = time.Minute
)

var (
	// ErrUnknownIdentity is returned for an identity that is neither a
	// configured slot nor a live record.
	ErrUnknownIdentity = errors.New("engine: unknown identity")
	// ErrInvalidSubscription is returned for a push subscription without
	// an endpoint or keys.
	ErrInvalidSubscription = errors.New("engine: invalid push subscription")
)

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Factory bridge.Factory
	// Store defaults to an in-memory store.
	Store   store.Store
	Limiter *security.RateLimiter
	Audit   *security.AuditLogger
	// Sinks receive every notification in addition to the engine's hub.
	Sinks  []notify.Sink
	Logger *slog.Logger
}

// Engine owns every identity and the components acting on them.
type Engine struct {
	cfg      Config
	registry *identity.Registry
	store    store.Store
	hub      *notify.Hub
	sink     notify.Sink

	queue       *alert.Queue
	ingester    *ingest.Ingester
	auth        *auth.Machine
	broadcaster *broadcast.Broadcaster
	supervisor  *supervisor.Supervisor
	cron        *cron.Scheduler

	limiter *security.RateLimiter
	audit   *security.AuditLogger
	logger  *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	restores sync.WaitGroup
}

// New builds an Engine. Nothing runs until Start.
func New(cfg Config, deps Deps) (*Engine, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Factory == nil {
		return nil, errors.New("engine: a session factory is required")
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger

	hub := notify.NewHub(cfg.HubBuffer, logger)
	sinks := notify.Fanout{hub}
	for _, s := range deps.Sinks {
		if s != nil {
			sinks = append(sinks, s)
		}
	}

	registry := identity.NewRegistry(cfg.Profiles)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		store:    deps.Store,
		hub:      hub,
		sink:     sinks,
		limiter:  deps.Limiter,
		audit:    deps.Audit,
		logger:   logger.With("component", "engine"),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.queue = alert.NewQueue(cfg.Alerts, sinks, registry, logger)
	e.ingester = ingest.New(cfg.Ingest, registry, e.queue, sinks, logger)
	e.auth = auth.New(registry, deps.Factory, auth.Options{
		Bridge:  cfg.Bridge,
		Handler: e.ingester.Handler,
		Limiter: deps.Limiter,
		Audit:   deps.Audit,
		Sink:    sinks,
		Logger:  logger,
	})
	e.broadcaster = broadcast.New(cfg.Broadcast, registry, sinks, logger)

	sup, err := supervisor.New(cfg.Monitoring, registry, e.broadcaster, e.reconnect, sinks, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	e.supervisor = sup

	e.cron = cron.NewScheduler(logger)
	jobs := []cron.Job{
		&cron.StatsFlushJob{Source: registry, Store: deps.Store, Logger: e.logger, ScheduleExpr: cfg.StatsFlushSchedule},
		&cron.BridgeSweepJob{Registry: registry, Logger: e.logger, ScheduleExpr: cfg.SweepSchedule},
	}
	for _, j := range jobs {
		if err := e.cron.RegisterJob(j); err != nil {
			cancel()
			return nil, err
		}
	}
	return e, nil
}

// Hub is the live notification feed.
func (e *Engine) Hub() *notify.Hub { return e.hub }

// Start restores persisted identities and starts background work.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.queue.Start(); err != nil {
		return err
	}
	restored, err := e.load(ctx)
	if err != nil {
		return err
	}
	if err := e.cron.Start(); err != nil {
		return err
	}
	if e.cfg.restore() {
		for _, id := range restored {
			e.restores.Add(1)
			go e.restore(id)
		}
	}
	e.logger.Info("engine started", "identities", len(restored))
	return nil
}

// load creates an inert registry record for every persisted identity and
// returns the IDs that still have a phone number to restore.
func (e *Engine) load(ctx context.Context) ([]string, error) {
	records, err := e.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: loading identities: %w", err)
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		e.inert(r)
		if r.Settings.Phone != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// inert fills a registry record from r unless the identity is already
// live in this process.
func (e *Engine) inert(r store.Record) {
	_, _ = e.registry.Update(r.ID, func(rec *identity.Identity) error {
		if rec.Bridge != nil || rec.State != identity.StateUnbound {
			return nil
		}
		rec.Settings = r.Settings.Clone()
		rec.Stats = r.Stats
		if r.Settings.Phone != "" {
			rec.State = identity.StateDisconnected
		}
		return nil
	})
}

// recall reloads the persisted record of an identity that is not in the
// registry, such as one that logged out earlier.
func (e *Engine) recall(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, ok := e.registry.Get(id); ok {
		return
	}
	r, err := e.store.Load(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		e.logger.Warn("loading identity", "identity", id, "error", err)
	default:
		e.inert(r)
	}
}

func (e *Engine) restore(id string) {
	defer e.restores.Done()
	ctx, cancel := context.WithTimeout(e.ctx, restoreTimeout)
	defer cancel()
	if err := e.reconnect(ctx, id); err != nil {
		e.logger.Info("session not restored", "identity", id, "error", err)
		return
	}
	e.logger.Info("session restored", "identity", id)
}

// reconnect replaces the identity's bridge with a fresh one and checks
// that the stored session is still authorized.
func (e *Engine) reconnect(ctx context.Context, id string) error {
	if b := e.registry.DetachBridge(id); b != nil {
		b.Stop()
	}
	b, err := e.auth.EnsureBridge(id)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		e.setState(id, identity.StateDisconnected, "could not connect: "+err.Error())
		return fmt.Errorf("engine: connect %s: %w", id, err)
	}
	ok, err := bridge.Call(ctx, b, "session.check", func(ctx context.Context, r bridge.Remote) (bool, error) {
		return r.IsAuthorized(ctx)
	})
	if err != nil {
		return fmt.Errorf("engine: check %s: %w", id, err)
	}
	if !ok {
		e.setState(id, identity.StateDisconnected, "session expired, log in again")
		return bridge.ErrNotAuthorized
	}
	rec := e.setState(id, identity.StateAuthenticated, "")
	e.sink.Publish(notify.New(id, notify.TypeLoginStatus, auth.StatusOf(rec)))
	e.sink.Publish(notify.New(id, notify.TypeConnectionStatus, notify.Status{State: "connected"}))
	return nil
}

func (e *Engine) setState(id string, state identity.State, lastErr string) identity.Identity {
	rec, _ := e.registry.Update(id, func(rec *identity.Identity) error {
		rec.State = state
		rec.LastError = lastErr
		return nil
	})
	return rec
}

// Stop ends monitoring, drains alerts, closes every session and flushes
// statistics.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error

	e.cancel()
	e.restores.Wait()

	if err := e.cron.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.supervisor.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.queue.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, rec := range e.registry.List() {
		if b := e.registry.DetachBridge(rec.ID); b != nil {
			b.Stop()
		}
	}
	e.ingester.Wait()

	if err := e.cron.RunNow(ctx, statsFlushJob); err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

func (e *Engine) known(id string) error {
	if id == "" || !e.registry.Known(id) {
		return fmt.Errorf("%w: %q", ErrUnknownIdentity, id)
	}
	return nil
}

// NewIdentity creates a record outside the configured slots and returns
// its ID.
func (e *Engine) NewIdentity() string {
	id := e.registry.NewID()
	e.registry.Ensure(id)
	return id
}

// BeginLogin starts the login flow for id with phone.
func (e *Engine) BeginLogin(ctx context.Context, id, phone string) (auth.Result, error) {
	e.recall(ctx, id)
	if err := e.known(id); err != nil {
		return auth.Result{Status: auth.StatusError, Message: "unknown identity"}, err
	}
	res, err := e.auth.BeginLogin(ctx, id, phone)
	if rec, ok := e.registry.Get(id); ok && rec.Settings.Phone != "" {
		e.persist(ctx, rec)
	}
	return res, err
}

// SubmitCode submits the login code of id.
func (e *Engine) SubmitCode(ctx context.Context, id, code string) (auth.Result, error) {
	if err := e.known(id); err != nil {
		return auth.Result{Status: auth.StatusError, Message: "unknown identity"}, err
	}
	return e.auth.SubmitCode(ctx, id, code)
}

// SubmitPassword submits the two-step password of id.
func (e *Engine) SubmitPassword(ctx context.Context, id, password string) (auth.Result, error) {
	if err := e.known(id); err != nil {
		return auth.Result{Status: auth.StatusError, Message: "unknown identity"}, err
	}
	return e.auth.SubmitPassword(ctx, id, password)
}

// SaveSettings normalizes, validates and persists s for id. The phone
// number is owned by the login flow and is never changed here.
func (e *Engine) SaveSettings(ctx context.Context, id string, s identity.Settings) (identity.Settings, error) {
	e.recall(ctx, id)
	if err := e.known(id); err != nil {
		return identity.Settings{}, err
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return identity.Settings{}, err
	}
	rec, _ := e.registry.Update(id, func(rec *identity.Identity) error {
		s.Phone = rec.Settings.Phone
		rec.Settings = s.Clone()
		return nil
	})
	if err := e.store.SaveSettings(ctx, id, rec.Settings); err != nil {
		return rec.Settings, fmt.Errorf("engine: saving settings: %w", err)
	}

	e.audit.Log(security.AuditEvent{
		Type:       security.EventSettingsChange,
		IdentityID: id,
		Metadata: map[string]string{
			"keywords":     strconv.Itoa(len(s.Keywords)),
			"destinations": strconv.Itoa(len(s.Destinations)),
			"send_type":    string(s.SendType),
		},
	})
	e.sink.Publish(notify.Log(id, "💾 Settings saved"))
	return rec.Settings, nil
}

func (e *Engine) persist(ctx context.Context, rec identity.Identity) {
	if err := e.store.SaveSettings(ctx, rec.ID, rec.Settings); err != nil {
		e.logger.Error("persisting settings", "identity", rec.ID, "error", err)
	}
}

// StartMonitoring starts the monitoring loop of an authenticated identity.
func (e *Engine) StartMonitoring(id string) error {
	if err := e.known(id); err != nil {
		return err
	}
	if err := e.supervisor.Start(id); err != nil {
		return err
	}
	e.audit.Log(security.AuditEvent{Type: security.EventMonitoringStart, IdentityID: id})
	return nil
}

// StopMonitoring asks the monitoring loop of id to exit.
func (e *Engine) StopMonitoring(id string) error {
	if err := e.known(id); err != nil {
		return err
	}
	e.supervisor.Stop(id)
	e.audit.Log(security.AuditEvent{Type: security.EventMonitoringStop, IdentityID: id})
	return nil
}

// SendNow broadcasts immediately. An empty message or destination list
// falls back to the identity's saved settings.
func (e *Engine) SendNow(ctx context.Context, id string, req broadcast.Request) (broadcast.Report, error) {
	if err := e.known(id); err != nil {
		return broadcast.Report{}, err
	}
	if e.limiter != nil {
		if err := e.limiter.Allow(security.KindSend, id); err != nil {
			e.audit.Log(security.AuditEvent{Type: security.EventRateLimit, IdentityID: id, Detail: security.KindSend})
			return broadcast.Report{}, fmt.Errorf("engine: %w", err)
		}
	}

	rec, _ := e.registry.Get(id)
	if strings.TrimSpace(req.Message) == "" && len(req.Images) == 0 {
		req.Message = rec.Settings.Message
	}
	if len(req.Destinations) == 0 {
		req.Destinations = rec.Settings.Destinations
	}

	report, err := e.broadcaster.Send(ctx, id, req)
	e.audit.Log(security.AuditEvent{
		Type:       security.EventBroadcast,
		IdentityID: id,
		Metadata: map[string]string{
			"sent":   strconv.Itoa(report.Sent),
			"failed": strconv.Itoa(report.Failed),
		},
	})
	return report, err
}

// Join makes id a member of the chat behind link.
func (e *Engine) Join(ctx context.Context, id, link string) (broadcast.JoinResult, error) {
	if err := e.known(id); err != nil {
		return broadcast.JoinResult{}, err
	}
	res, err := e.broadcaster.Join(ctx, id, link)
	ev := security.AuditEvent{Type: security.EventJoin, IdentityID: id, Detail: link}
	if err != nil {
		ev.Metadata = map[string]string{"error": broadcast.JoinMessage(err)}
	}
	e.audit.Log(ev)
	return res, err
}

// Logout closes the session of id and forgets its phone number. Keywords
// and broadcast settings are kept for the next login.
func (e *Engine) Logout(ctx context.Context, id string) error {
	if err := e.known(id); err != nil {
		return err
	}
	e.supervisor.Stop(id)
	rec, ok := e.auth.Logout(id)
	if !ok {
		return nil
	}
	rec.Settings.Phone = ""
	if err := e.store.SaveSettings(ctx, id, rec.Settings); err != nil {
		return fmt.Errorf("engine: clearing phone: %w", err)
	}
	if err := e.store.SaveStats(ctx, id, rec.Stats); err != nil {
		return fmt.Errorf("engine: saving stats: %w", err)
	}
	return nil
}

// Reset wipes a configured slot: session, settings, statistics and push
// subscriptions.
func (e *Engine) Reset(ctx context.Context, id string) error {
	e.supervisor.Stop(id)
	if _, err := e.auth.Reset(id); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownIdentity, id)
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("engine: deleting %s: %w", id, err)
	}
	e.sink.Publish(notify.Log(id, "🧹 Identity reset"))
	return nil
}

// AddPushSubscription registers a browser for alert pushes of an identity.
func (e *Engine) AddPushSubscription(ctx context.Context, sub store.PushSubscription) error {
	if err := e.known(sub.IdentityID); err != nil {
		return err
	}
	if sub.Endpoint == "" || sub.P256dh == "" || sub.Auth == "" {
		return ErrInvalidSubscription
	}
	return e.store.AddPushSubscription(ctx, sub)
}

// RemovePushSubscription unregisters a browser endpoint.
func (e *Engine) RemovePushSubscription(ctx context.Context, endpoint string) error {
	return e.store.DeletePushSubscription(ctx, endpoint)
}

// PushPublicKey is the VAPID key browsers subscribe with, or "" when push
// is disabled.
func (e *Engine) PushPublicKey() string {
	if !e.cfg.Push.Enabled() {
		return ""
	}
	return e.cfg.Push.VAPIDPublicKey
}
