package ingest

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/tgmonitor/internal/alert"
	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/metrics"
	"github.com/flemzord/tgmonitor/internal/notify"
)

// Enqueuer accepts alerts for dispatch.
type Enqueuer interface {
	Enqueue(ev alert.Event) bool
}

// Config tunes auto-reply timing.
type Config struct {
	ReplyDelayMin time.Duration `yaml:"reply_delay_min"`
	ReplyDelayMax time.Duration `yaml:"reply_delay_max"`
	ReplyTimeout  time.Duration `yaml:"reply_timeout"`
}

func (c Config) withDefaults() Config {
	if c.ReplyDelayMin <= 0 {
		c.ReplyDelayMin = time.Second
	}
	if c.ReplyDelayMax < c.ReplyDelayMin {
		c.ReplyDelayMax = 3 * time.Second
		if c.ReplyDelayMax < c.ReplyDelayMin {
			c.ReplyDelayMax = c.ReplyDelayMin
		}
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 30 * time.Second
	}
	return c
}

// Ingester inspects inbound messages for every identity.
type Ingester struct {
	cfg      Config
	registry *identity.Registry
	queue    Enqueuer
	sink     notify.Sink
	logger   *slog.Logger

	// delay picks the pause before an auto-reply.
	delay func() time.Duration
	now   func() time.Time

	replies sync.WaitGroup
}

// New creates an Ingester feeding queue.
func New(cfg Config, registry *identity.Registry, queue Enqueuer, sink notify.Sink, logger *slog.Logger) *Ingester {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = notify.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	in := &Ingester{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		sink:     sink,
		logger:   logger.With("component", "ingest"),
		now:      time.Now,
	}
	in.delay = func() time.Duration {
		spread := int64(in.cfg.ReplyDelayMax - in.cfg.ReplyDelayMin)
		if spread <= 0 {
			return in.cfg.ReplyDelayMin
		}
		return in.cfg.ReplyDelayMin + time.Duration(rand.Int64N(spread+1))
	}
	return in
}

// Handler returns the inbound handler for one identity's bridge.
func (in *Ingester) Handler(identityID string) bridge.Handler {
	return func(ctx context.Context, msg bridge.Inbound) {
		in.Handle(ctx, identityID, msg)
	}
}

// Handle processes one inbound message. It never panics and never blocks
// on the bridge: replies are sent from their own goroutine.
func (in *Ingester) Handle(ctx context.Context, identityID string, msg bridge.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("inbound message handling panicked", "identity", identityID, "panic", r)
		}
	}()

	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	metrics.MessagesIngested.Inc()

	rec, ok := in.registry.Get(identityID)
	if !ok {
		return
	}
	keyword, ok := NewMatcher(rec.Settings.Keywords).Match(msg.Text)
	if !ok {
		return
	}

	source := SourceLabel(msg.Chat)
	ev := alert.Event{
		ID:           uuid.NewString(),
		IdentityID:   identityID,
		IdentityName: rec.Profile.Name,
		Keyword:      keyword,
		Source:       source,
		Sender:       SenderName(msg.Sender),
		Excerpt:      Excerpt(msg.Text),
		Text:         msg.Text,
		At:           msg.Date,
		MessageID:    msg.MessageID,
		ChatID:       msg.Chat.ID,
		ChatUsername: msg.Chat.Username,
		ChatPublic:   msg.Chat.Public,
	}
	if ev.At.IsZero() {
		ev.At = in.now()
	}
	if msg.Sender != nil {
		ev.SenderUsername = msg.Sender.Username
	}
	in.queue.Enqueue(ev)
	in.logger.Debug("keyword matched", "identity", identityID, "keyword", keyword, "source", source)

	if keyword == CatchAll || !rec.Settings.AutoReplyEnabled {
		return
	}
	reply, ok := LookupReply(rec.Settings.AutoReplies, keyword)
	if !ok {
		return
	}
	in.replies.Add(1)
	go func() {
		defer in.replies.Done()
		in.autoReply(ctx, identityID, keyword, source, msg.Peer, reply)
	}()
}

func (in *Ingester) autoReply(ctx context.Context, identityID, keyword, source string, to bridge.Peer, reply string) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("auto-reply panicked", "identity", identityID, "panic", r)
		}
	}()

	select {
	case <-time.After(in.delay()):
	case <-ctx.Done():
		return
	}

	rec, ok := in.registry.Get(identityID)
	if !ok || rec.Bridge == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, in.cfg.ReplyTimeout)
	defer cancel()

	err := rec.Bridge.Submit(sendCtx, "ingest.auto_reply", func(ctx context.Context, r bridge.Remote) error {
		_, err := r.SendText(ctx, to, reply)
		return err
	})
	if err != nil {
		in.logger.Warn("auto-reply failed", "identity", identityID, "keyword", keyword, "error", err)
		in.sink.Publish(notify.Log(identityID, "❌ Auto-reply failed: "+err.Error()))
		return
	}
	in.logger.Info("auto-reply sent", "identity", identityID, "keyword", keyword, "source", source)
	in.sink.Publish(notify.Log(identityID,
		"🤖 Auto-reply sent: '"+keyword+"' → '"+alert.Truncate(reply, 50)+"' in "+source))
}

// Wait blocks until pending auto-replies have finished.
func (in *Ingester) Wait() {
	in.replies.Wait()
}
