// Package broadcast sends a message and images to a list of destinations on
// behalf of one identity, and joins channels.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/metrics"
	"github.com/flemzord/tgmonitor/internal/notify"
)

const tracerName = "github.com/flemzord/tgmonitor/internal/broadcast"

var (
	// ErrNotConnected is returned when the identity has no running session.
	ErrNotConnected = errors.New("broadcast: identity is not connected")
	// ErrEmpty is returned for a request with neither text nor images.
	ErrEmpty = errors.New("broadcast: nothing to send")
	// ErrNoDestinations is returned for a request without destinations.
	ErrNoDestinations = errors.New("broadcast: no destinations")
)

// Config tunes delivery pacing.
type Config struct {
	// Pace is the minimum gap between two destinations. A negative value
	// disables pacing.
	Pace time.Duration `yaml:"pace"`
	// SendTimeout bounds the delivery to a single destination.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Pace == 0 {
		c.Pace = 3 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 2 * time.Minute
	}
	return c
}

// Image is a file to attach.
type Image struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// Request describes one broadcast.
type Request struct {
	Message      string   `json:"message"`
	Images       []Image  `json:"images,omitempty"`
	Destinations []string `json:"groups"`
}

// Result is the outcome for one destination.
type Result struct {
	Destination string `json:"destination"`
	OK          bool   `json:"ok"`
	MessageIDs  []int  `json:"message_ids,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Report summarizes a broadcast.
type Report struct {
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Broadcaster delivers broadcasts through the identity's bridge.
type Broadcaster struct {
	cfg      Config
	registry *identity.Registry
	sink     notify.Sink
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a Broadcaster.
func New(cfg Config, registry *identity.Registry, sink notify.Sink, logger *slog.Logger) *Broadcaster {
	if sink == nil {
		sink = notify.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:      cfg.withDefaults(),
		registry: registry,
		sink:     sink,
		logger:   logger.With("component", "broadcast"),
		tracer:   otel.Tracer(tracerName),
	}
}

func (b *Broadcaster) limiter() *rate.Limiter {
	if b.cfg.Pace < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(b.cfg.Pace), 1)
}

// bridgeOf returns the running bridge of an identity.
func (b *Broadcaster) bridgeOf(id string) (*bridge.Bridge, error) {
	rec, ok := b.registry.Get(id)
	if !ok || rec.Bridge == nil || !rec.Bridge.Running() {
		return nil, ErrNotConnected
	}
	return rec.Bridge, nil
}

// Send delivers req to every destination in order. A failing destination
// is counted and reported; the remaining destinations are still attempted.
// The returned error is only set when nothing could be attempted or ctx
// ended the batch early.
func (b *Broadcaster) Send(ctx context.Context, id string, req Request) (Report, error) {
	var report Report

	dests := cleanDestinations(req.Destinations)
	if len(dests) == 0 {
		return report, ErrNoDestinations
	}
	images := b.existingImages(id, req.Images)
	message := strings.TrimSpace(req.Message)
	if message == "" && len(images) == 0 {
		return report, ErrEmpty
	}
	br, err := b.bridgeOf(id)
	if err != nil {
		return report, err
	}

	ctx, span := b.tracer.Start(ctx, "broadcast.send", trace.WithAttributes(
		attribute.String("identity", id),
		attribute.Int("destinations", len(dests)),
		attribute.Int("images", len(images)),
	))
	defer span.End()

	b.sink.Publish(notify.Log(id, fmt.Sprintf("🚀 Sending %s to %d destinations", describe(message, images), len(dests))))

	lim := b.limiter()
	for i, dest := range dests {
		if err := lim.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return report, fmt.Errorf("broadcast: %w", err)
		}

		ids, err := b.deliver(ctx, br, dest, message, images)
		res := Result{Destination: dest, OK: err == nil, MessageIDs: ids}
		if err != nil {
			res.Error = err.Error()
		}
		report.Results = append(report.Results, res)
		b.record(id, res, i+1, len(dests))
		if err == nil {
			report.Sent++
		} else {
			report.Failed++
		}
	}

	span.SetAttributes(attribute.Int("sent", report.Sent), attribute.Int("failed", report.Failed))
	b.sink.Publish(notify.Log(id, fmt.Sprintf("📊 Broadcast finished: ✅ %d sent | ❌ %d failed", report.Sent, report.Failed)))
	b.logger.Info("broadcast finished", "identity", id, "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

// record updates stats under the registry lock and tells the UI.
func (b *Broadcaster) record(id string, res Result, n, total int) {
	rec, _ := b.registry.Update(id, func(rec *identity.Identity) error {
		if res.OK {
			rec.Stats.Sent++
		} else {
			rec.Stats.Errors++
		}
		return nil
	})

	if res.OK {
		metrics.BroadcastDestinations.WithLabelValues("ok").Inc()
		b.sink.Publish(notify.Log(id, fmt.Sprintf("✅ [%d/%d] Sent to %s", n, total, res.Destination)))
	} else {
		metrics.BroadcastDestinations.WithLabelValues("error").Inc()
		b.logger.Warn("broadcast destination failed", "identity", id, "destination", res.Destination, "error", res.Error)
		b.sink.Publish(notify.Log(id, fmt.Sprintf("❌ [%d/%d] Failed for %s: %s", n, total, res.Destination, classify(res.Error))))
	}
	b.sink.Publish(notify.New(id, notify.TypeStatsUpdate, rec.Stats))
}

func (b *Broadcaster) deliver(ctx context.Context, br *bridge.Bridge, dest, message string, images []Image) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()

	var ids []int
	err := br.Submit(ctx, "broadcast.deliver", func(ctx context.Context, r bridge.Remote) error {
		peer, err := resolve(ctx, r, dest)
		if err != nil {
			return err
		}
		ids, err = sendTo(ctx, r, peer, message, images, b.logger)
		return err
	})
	return ids, err
}

// resolve looks dest up, retrying once with an @ prefix.
func resolve(ctx context.Context, r bridge.Remote, dest string) (bridge.Peer, error) {
	peer, err := r.Resolve(ctx, dest)
	if err == nil {
		return peer, nil
	}
	if strings.HasPrefix(dest, "@") || strings.HasPrefix(dest, "https://") {
		return bridge.Peer{}, err
	}
	return r.Resolve(ctx, "@"+dest)
}

// sendTo posts the content to one peer. One image carries the message as
// its caption. Several images follow the text, one message each; a failed
// image does not stop the others.
func sendTo(ctx context.Context, r bridge.Remote, peer bridge.Peer, message string, images []Image, logger *slog.Logger) ([]int, error) {
	switch len(images) {
	case 0:
		id, err := r.SendText(ctx, peer, message)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	case 1:
		caption := message
		if caption == "" {
			caption = "📷"
		}
		id, err := r.SendPhoto(ctx, peer, images[0].Path, caption)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	}

	var ids []int
	if message != "" {
		id, err := r.SendText(ctx, peer, message)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	var lastErr error
	for i, img := range images {
		caption := fmt.Sprintf("📷 Image %d of %d", i+1, len(images))
		id, err := r.SendPhoto(ctx, peer, img.Path, caption)
		if err != nil {
			logger.Warn("image send failed", "destination", peer.Username, "image", i+1, "error", err)
			lastErr = err
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, lastErr
	}
	return ids, nil
}

func (b *Broadcaster) existingImages(id string, images []Image) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		if _, err := os.Stat(img.Path); err != nil {
			b.logger.Warn("image skipped", "identity", id, "path", img.Path, "error", err)
			continue
		}
		out = append(out, img)
	}
	return out
}

// cleanDestinations trims entries and splits on commas and newlines.
func cleanDestinations(in []string) []string {
	var out []string
	for _, d := range in {
		for _, part := range strings.FieldsFunc(d, func(r rune) bool { return r == ',' || r == '\n' }) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func describe(message string, images []Image) string {
	switch {
	case len(images) > 0 && message != "":
		return fmt.Sprintf("a message with %d images", len(images))
	case len(images) > 0:
		return fmt.Sprintf("%d images", len(images))
	default:
		return "a message"
	}
}

// classify turns a delivery error into a short reason for the activity log.
func classify(msg string) string {
	low := strings.ToLower(msg)
	switch {
	case strings.Contains(low, "banned"):
		return "banned"
	case strings.Contains(low, "private"):
		return "private or restricted"
	case strings.Contains(low, "can't write"), strings.Contains(low, "write forbidden"):
		return "not allowed to write"
	case strings.Contains(low, "rate limited"):
		return msg
	default:
		return "error"
	}
}
