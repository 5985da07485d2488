// Package supervisor runs the monitoring loop of each identity: liveness
// checks, reconnection, heartbeats and scheduled broadcasts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/tgmonitor/internal/alert"
	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/broadcast"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/metrics"
	"github.com/flemzord/tgmonitor/internal/notify"
)

var (
	// ErrNotAuthenticated is returned when monitoring is started for an
	// identity that is not logged in.
	ErrNotAuthenticated = errors.New("supervisor: identity is not authenticated")
	// ErrDisconnected is a tick failure caused by a missing session.
	ErrDisconnected = errors.New("supervisor: session disconnected")
)

// Broadcaster sends scheduled broadcasts.
type Broadcaster interface {
	Send(ctx context.Context, id string, req broadcast.Request) (broadcast.Report, error)
}

// Reconnector replaces an identity's session with a fresh connected one.
type Reconnector func(ctx context.Context, id string) error

// Config tunes the monitoring loop.
type Config struct {
	Tick           time.Duration `yaml:"tick"`
	HeartbeatEvery time.Duration `yaml:"heartbeat_every"`
	MaxErrors      int           `yaml:"max_errors"`
	Cooldown       time.Duration `yaml:"cooldown"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
	// RetryDelay separates reconnect attempts within one tick.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// QuietHours holds back scheduled broadcasts, e.g. "23:00-07:00".
	QuietHours string `yaml:"quiet_hours"`
	Timezone   string `yaml:"timezone"`

	// Now and After are injectable for testing.
	Now   func() time.Time                   `yaml:"-"`
	After func(time.Duration) <-chan time.Time `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 5 * time.Second
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 30 * time.Second
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 15 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.After == nil {
		c.After = time.After
	}
	return c
}

// Validate checks the quiet hours window and timezone.
func (c Config) Validate() error {
	if c.QuietHours != "" {
		if _, err := ParseQuietHours(c.QuietHours); err != nil {
			return err
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("supervisor: timezone: %w", err)
		}
	}
	return nil
}

// loop is the handle on one running monitoring loop.
type loop struct {
	wake chan struct{}
	once sync.Once
}

func (l *loop) poke() { l.once.Do(func() { close(l.wake) }) }

func (l *loop) stopping() bool {
	select {
	case <-l.wake:
		return true
	default:
		return false
	}
}

// Supervisor owns the monitoring loops of all identities.
type Supervisor struct {
	cfg       Config
	quiet     *QuietHours
	loc       *time.Location
	registry  *identity.Registry
	bc        Broadcaster
	reconnect Reconnector
	sink      notify.Sink
	logger    *slog.Logger

	mu    sync.Mutex
	loops map[string]*loop
	wg    sync.WaitGroup
}

// New creates a Supervisor. reconnect may be nil to disable reconnection.
func New(cfg Config, registry *identity.Registry, bc Broadcaster, reconnect Reconnector, sink notify.Sink, logger *slog.Logger) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = notify.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		cfg:       cfg,
		loc:       time.UTC,
		registry:  registry,
		bc:        bc,
		reconnect: reconnect,
		sink:      sink,
		logger:    logger.With("component", "supervisor"),
		loops:     make(map[string]*loop),
	}
	if cfg.QuietHours != "" {
		q, _ := ParseQuietHours(cfg.QuietHours)
		s.quiet = &q
	}
	if cfg.Timezone != "" {
		s.loc, _ = time.LoadLocation(cfg.Timezone)
	}
	return s, nil
}

// Start begins monitoring id. Starting an identity that is already
// monitored is a no-op. A loop that was asked to stop is replaced
// by a new one.
func (s *Supervisor) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.registry.UpdateExisting(id, func(rec *identity.Identity) error {
		if rec.State != identity.StateAuthenticated {
			return ErrNotAuthenticated
		}
		rec.IsRunning = true
		return nil
	})
	if err != nil {
		return err
	}
	if l, ok := s.loops[id]; ok && !l.stopping() {
		return nil
	}
	l := &loop{wake: make(chan struct{})}
	s.loops[id] = l
	s.wg.Add(1)
	go s.run(id, rec, l)
	return nil
}

// Stop asks the loop of id to exit after its current tick.
func (s *Supervisor) Stop(id string) {
	_, _ = s.registry.UpdateExisting(id, func(rec *identity.Identity) error {
		rec.IsRunning = false
		return nil
	})
	s.mu.Lock()
	l := s.loops[id]
	s.mu.Unlock()
	if l != nil {
		l.poke()
	}
}

// Running reports whether a loop exists for id.
func (s *Supervisor) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[id]
	return ok
}

// Shutdown stops every loop and waits for them until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: shutdown: %w", ctx.Err())
	}
}

func (s *Supervisor) run(id string, rec identity.Identity, l *loop) {
	log := s.logger.With("identity", id)
	ctx := context.Background()

	defer func() {
		defer s.wg.Done()
		metrics.MonitoringActive.Dec()

		// A replaced loop leaves the state to its successor.
		s.mu.Lock()
		current := s.loops[id] == l
		if current {
			delete(s.loops, id)
			_, _ = s.registry.UpdateExisting(id, func(rec *identity.Identity) error {
				rec.IsRunning = false
				rec.MonitoringActive = false
				return nil
			})
		}
		s.mu.Unlock()
		if !current {
			log.Debug("replaced monitoring loop exited")
			return
		}
		s.sink.Publish(notify.Log(id, "⏹ Monitoring stopped"))
		s.sink.Publish(notify.New(id, notify.TypeMonitoringStatus, MonitoringStatus{Active: false}))
		s.sink.Publish(notify.New(id, notify.TypeHeartbeat, notify.Heartbeat{Status: "stopped"}))
		log.Info("monitoring stopped")
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("monitoring loop panicked", "panic", r)
			s.sink.Publish(notify.Log(id, fmt.Sprintf("❌ Monitoring failed: %v", r)))
		}
	}()

	started := s.cfg.Now()
	_, _ = s.registry.UpdateExisting(id, func(rec *identity.Identity) error {
		rec.MonitoringActive = true
		rec.MonitoringStartedAt = started
		rec.LastHeartbeat = started
		return nil
	})
	metrics.MonitoringActive.Inc()
	s.sink.Publish(notify.Log(id, startedMessage(rec.Settings)))
	s.sink.Publish(notify.New(id, notify.TypeMonitoringStatus, MonitoringStatus{Active: true}))
	log.Info("monitoring started", "keywords", len(rec.Settings.Keywords), "destinations", len(rec.Settings.Destinations))

	errs := 0
	lastBeat := started
	for {
		rec, ok := s.registry.Get(id)
		if !ok || !rec.IsRunning || l.stopping() {
			return
		}
		now := s.cfg.Now()
		_, _ = s.registry.UpdateExisting(id, func(rec *identity.Identity) error {
			rec.LastHeartbeat = now
			return nil
		})

		if err := s.tick(ctx, rec, now); err != nil {
			errs++
			metrics.SupervisorErrors.Inc()
			log.Warn("monitoring tick failed", "error", err, "consecutive", errs)
			s.sink.Publish(notify.Log(id, fmt.Sprintf("⚠️ Monitoring error (%d/%d): %s",
				errs, s.cfg.MaxErrors, alert.Truncate(err.Error(), 100))))

			if errs >= s.cfg.MaxErrors {
				s.sink.Publish(notify.Log(id, fmt.Sprintf("❌ Monitoring paused, retrying in %s", s.cfg.Cooldown)))
				s.sink.Publish(notify.New(id, notify.TypeMonitoringStatus, MonitoringStatus{Active: true, Degraded: true}))
				if !s.sleep(ctx, l, s.cfg.Cooldown) {
					return
				}
				errs = 0
				s.sink.Publish(notify.Log(id, "🔄 Monitoring resumed"))
				s.sink.Publish(notify.New(id, notify.TypeMonitoringStatus, MonitoringStatus{Active: true}))
				continue
			}
		} else {
			errs = 0
		}

		if now.Sub(lastBeat) >= s.cfg.HeartbeatEvery {
			lastBeat = now
			s.sink.Publish(notify.New(id, notify.TypeHeartbeat, notify.Heartbeat{
				Status: "active",
				Uptime: int(now.Sub(started) / time.Second),
			}))
		}

		if !s.sleep(ctx, l, s.cfg.Tick) {
			return
		}
	}
}

// sleep waits d, returning false when the loop should exit early.
func (s *Supervisor) sleep(ctx context.Context, l *loop, d time.Duration) bool {
	select {
	case <-s.cfg.After(d):
		return true
	case <-l.wake:
		return false
	case <-ctx.Done():
		return false
	}
}

// tick runs one monitoring cycle.
func (s *Supervisor) tick(ctx context.Context, rec identity.Identity, now time.Time) error {
	if err := s.checkConnection(ctx, rec); err != nil {
		return err
	}
	return s.maybeBroadcast(ctx, rec, now)
}

func (s *Supervisor) checkConnection(ctx context.Context, rec identity.Identity) error {
	if rec.Bridge == nil || !rec.Bridge.Running() {
		return s.reconnectOr(ctx, rec, ErrDisconnected)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()
	authorized, err := bridge.Call(ctx, rec.Bridge, "supervisor.check", func(ctx context.Context, r bridge.Remote) (bool, error) {
		return r.IsAuthorized(ctx)
	})
	if err != nil {
		return fmt.Errorf("supervisor: connection check: %w", err)
	}
	if !authorized {
		return s.reconnectOr(ctx, rec, bridge.ErrNotAuthorized)
	}
	return nil
}

func (s *Supervisor) reconnectOr(ctx context.Context, rec identity.Identity, cause error) error {
	if !rec.Settings.AutoReconnect || s.reconnect == nil {
		return cause
	}
	s.logger.Warn("session lost, reconnecting", "identity", rec.ID, "cause", cause)
	s.sink.Publish(notify.Log(rec.ID, "⚠️ Connection lost, reconnecting..."))

	attempts := max(rec.Settings.MaxRetries, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.reconnect(ctx, rec.ID); err == nil {
			s.sink.Publish(notify.New(rec.ID, notify.TypeConnectionStatus, notify.Status{State: "connected"}))
			return nil
		}
		// An expired session needs a new login.
		if errors.Is(err, bridge.ErrNotAuthorized) || attempt == attempts {
			break
		}
		s.logger.Warn("reconnect attempt failed", "identity", rec.ID, "attempt", attempt, "max", attempts, "error", err)
		select {
		case <-s.cfg.After(s.cfg.RetryDelay):
		case <-ctx.Done():
			return fmt.Errorf("supervisor: reconnect: %w", ctx.Err())
		}
	}
	return fmt.Errorf("supervisor: reconnect: %w", err)
}

// maybeBroadcast runs the scheduled broadcast when it is due.
func (s *Supervisor) maybeBroadcast(ctx context.Context, rec identity.Identity, now time.Time) error {
	set := rec.Settings
	if set.SendType != identity.SendScheduled || s.bc == nil {
		return nil
	}
	if now.Sub(rec.LastScheduledSend) < set.Interval() {
		return nil
	}
	if s.quiet != nil && s.quiet.Contains(now.In(s.loc)) {
		return nil
	}

	s.sink.Publish(notify.Log(rec.ID, fmt.Sprintf("📅 Running scheduled send to %d destinations", len(set.Destinations))))
	_, err := s.bc.Send(ctx, rec.ID, broadcast.Request{Message: set.Message, Destinations: set.Destinations})

	_, _ = s.registry.UpdateExisting(rec.ID, func(r *identity.Identity) error {
		r.LastScheduledSend = now
		return nil
	})

	if errors.Is(err, broadcast.ErrEmpty) || errors.Is(err, broadcast.ErrNoDestinations) {
		return nil
	}
	return err
}

// MonitoringStatus is the payload of monitoring_status notifications.
type MonitoringStatus struct {
	Active   bool `json:"active"`
	Degraded bool `json:"degraded,omitempty"`
}

func startedMessage(set identity.Settings) string {
	reply := "off"
	if set.AutoReplyEnabled {
		reply = "on"
	}
	if len(set.Keywords) == 0 {
		return fmt.Sprintf("🚀 Monitoring every message | auto-reply: %s | %d destinations", reply, len(set.Destinations))
	}
	return fmt.Sprintf("🚀 Monitoring started - %d keywords | auto-reply: %s | %d destinations",
		len(set.Keywords), reply, len(set.Destinations))
}
