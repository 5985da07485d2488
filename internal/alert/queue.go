package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/metrics"
	"github.com/flemzord/tgmonitor/internal/notify"
)

// ErrStopped is returned by Start on a queue that has already been stopped.
var ErrStopped = errors.New("alert: queue stopped")

// Config controls queue sizing and the external deliveries.
type Config struct {
	Capacity       int           `yaml:"capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	// DeliveryTimeout bounds each outbound message sent for an alert.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	// NoteToSelf writes every alert to the identity's saved messages.
	NoteToSelf *bool `yaml:"note_to_self"`
	// AdminChat, when set, receives a copy of every alert. It is a public
	// handle such as @ops_alerts.
	AdminChat string `yaml:"admin_chat"`
	// AdminInvite is the invite hash used to join AdminChat before the
	// first delivery from an identity.
	AdminInvite string `yaml:"admin_invite"`
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = time.Second
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 30 * time.Second
	}
	if c.NoteToSelf == nil {
		on := true
		c.NoteToSelf = &on
	}
	return c
}

// Queue is a bounded FIFO of alerts drained by a single consumer.
type Queue struct {
	cfg      Config
	events   chan Event
	sink     notify.Sink
	registry *identity.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	// invited records identities that already tried to join the admin chat.
	invited sync.Map
	// deliveries tracks detached delivery goroutines.
	deliveries sync.WaitGroup
}

// NewQueue creates a queue. Start must be called before alerts flow.
func NewQueue(cfg Config, sink notify.Sink, registry *identity.Registry, logger *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = notify.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:      cfg,
		events:   make(chan Event, cfg.Capacity),
		sink:     sink,
		registry: registry,
		logger:   logger.With("component", "alert-queue"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue offers ev to the queue, waiting at most the enqueue timeout for
// room. It reports whether the alert was accepted.
func (q *Queue) Enqueue(ev Event) bool {
	select {
	case q.events <- ev:
		metrics.AlertsEnqueued.Inc()
		return true
	default:
	}

	timer := time.NewTimer(q.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case q.events <- ev:
		metrics.AlertsEnqueued.Inc()
		return true
	case <-timer.C:
	case <-q.stop:
	}
	metrics.AlertsDropped.Inc()
	q.logger.Warn("alert dropped, queue full",
		"identity", ev.IdentityID,
		"keyword", ev.Keyword,
		"capacity", q.cfg.Capacity,
	)
	return false
}

// Len returns the number of alerts waiting for the consumer.
func (q *Queue) Len() int { return len(q.events) }

// Start launches the consumer. Calling it again is a no-op.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	if q.started {
		return nil
	}
	q.started = true
	go q.consume()
	return nil
}

// Stop halts the consumer and waits for in-flight deliveries until ctx
// expires. Alerts still queued are discarded.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	close(q.stop)
	q.mu.Unlock()

	if started {
		select {
		case <-q.done:
		case <-ctx.Done():
			return fmt.Errorf("alert: stop: %w", ctx.Err())
		}
	}

	waited := make(chan struct{})
	go func() {
		q.deliveries.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert: stop: %w", ctx.Err())
	}
}

func (q *Queue) consume() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			if n := len(q.events); n > 0 {
				q.logger.Info("discarding queued alerts on shutdown", "count", n)
			}
			return
		case ev := <-q.events:
			q.process(ev)
		}
	}
}

func (q *Queue) process(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("alert processing panicked", "identity", ev.IdentityID, "panic", r)
		}
	}()

	q.sink.Publish(notify.New(ev.IdentityID, notify.TypeNewAlert, ev))
	q.sink.Publish(notify.Log(ev.IdentityID, ev.LogLine()))
	metrics.AlertDeliveries.WithLabelValues("ui", "ok").Inc()

	if !*q.cfg.NoteToSelf && q.cfg.AdminChat == "" {
		return
	}
	q.deliveries.Add(1)
	go func() {
		defer q.deliveries.Done()
		q.deliver(ev)
	}()
}

// deliver performs the best-effort external deliveries for one alert.
func (q *Queue) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("alert delivery panicked", "identity", ev.IdentityID, "panic", r)
		}
	}()

	if *q.cfg.NoteToSelf {
		q.noteToSelf(ev)
	}
	if q.cfg.AdminChat != "" {
		q.mirror(ev)
	}
}

func (q *Queue) bridgeFor(id string) (*bridge.Bridge, identity.Identity, bool) {
	if q.registry == nil {
		return nil, identity.Identity{}, false
	}
	rec, ok := q.registry.Get(id)
	if !ok || rec.Bridge == nil || !rec.Bridge.Running() {
		return nil, rec, false
	}
	return rec.Bridge, rec, true
}

func (q *Queue) noteToSelf(ev Event) {
	b, _, ok := q.bridgeFor(ev.IdentityID)
	if !ok {
		metrics.AlertDeliveries.WithLabelValues("note", "skipped").Inc()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DeliveryTimeout)
	defer cancel()

	text := ev.NoteToSelf()
	err := b.Submit(ctx, "alert.note", func(ctx context.Context, r bridge.Remote) error {
		_, err := r.SendText(ctx, bridge.Self, text)
		return err
	})
	if err != nil {
		metrics.AlertDeliveries.WithLabelValues("note", "error").Inc()
		q.logger.Warn("note-to-self failed", "identity", ev.IdentityID, "error", err)
		return
	}
	metrics.AlertDeliveries.WithLabelValues("note", "ok").Inc()
}

// mirror posts the alert to the admin chat, first through the identity that
// raised it, then through any other connected identity.
func (q *Queue) mirror(ev Event) {
	if q.registry == nil {
		return
	}
	if ev.IdentityName == "" {
		if rec, ok := q.registry.Get(ev.IdentityID); ok {
			ev.IdentityName = rec.Profile.Name
		}
	}
	body := ev.AdminHTML()

	candidates := []string{ev.IdentityID}
	for _, rec := range q.registry.List() {
		if rec.ID != ev.IdentityID && rec.Connected() {
			candidates = append(candidates, rec.ID)
		}
	}

	var errs []error
	for _, id := range candidates {
		b, _, ok := q.bridgeFor(id)
		if !ok {
			continue
		}
		err := q.postAdmin(b, id, body)
		if err == nil {
			if id != ev.IdentityID {
				q.logger.Info("admin mirror sent via fallback identity", "identity", ev.IdentityID, "via", id)
			}
			metrics.AlertDeliveries.WithLabelValues("admin", "ok").Inc()
			return
		}
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}
	metrics.AlertDeliveries.WithLabelValues("admin", "error").Inc()
	q.logger.Warn("admin mirror failed", "identity", ev.IdentityID, "error", errors.Join(errs...))
}

func (q *Queue) postAdmin(b *bridge.Bridge, id, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DeliveryTimeout)
	defer cancel()

	_, tried := q.invited.LoadOrStore(id, struct{}{})
	invite := q.cfg.AdminInvite
	chat := q.cfg.AdminChat
	return b.Submit(ctx, "alert.admin", func(ctx context.Context, r bridge.Remote) error {
		if invite != "" && !tried {
			if err := r.ImportInvite(ctx, invite); err != nil && !errors.Is(err, bridge.ErrAlreadyMember) {
				q.logger.Debug("admin invite not accepted", "identity", id, "error", err)
			}
		}
		peer, err := r.Resolve(ctx, chat)
		if err != nil && !strings.HasPrefix(chat, "@") {
			peer, err = r.Resolve(ctx, "@"+chat)
		}
		if err != nil {
			return err
		}
		_, err = r.SendHTML(ctx, peer, body)
		return err
	})
}
