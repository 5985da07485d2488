package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/flemzord/tgmonitor/internal/store"
)

// PushConfig configures browser push delivery of alerts.
type PushConfig struct {
	Subject         string `yaml:"subject"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	TTL             int    `yaml:"ttl"`
	// Timeout bounds one delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
}

func (c PushConfig) withDefaults() PushConfig {
	if c.TTL <= 0 {
		c.TTL = 3600
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Enabled reports whether VAPID keys are available.
func (c PushConfig) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// SubscriptionSource lists and prunes push subscriptions.
type SubscriptionSource interface {
	PushSubscriptions(ctx context.Context, identityID string) ([]store.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

type pushSender interface {
	Send(ctx context.Context, payload []byte, sub store.PushSubscription) (int, error)
}

// Pusher mirrors new_alert notifications to registered browsers.
type Pusher struct {
	cfg    PushConfig
	subs   SubscriptionSource
	sender pushSender
	logger *slog.Logger
}

var _ Sink = (*Pusher)(nil)

// NewPusher creates a Pusher. It returns nil when cfg has no keys.
func NewPusher(cfg PushConfig, subs SubscriptionSource, logger *slog.Logger) *Pusher {
	if !cfg.Enabled() {
		return nil
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{
		cfg:    cfg,
		subs:   subs,
		sender: &vapidSender{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}},
		logger: logger.With("component", "notify.push"),
	}
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// AlertSummary is implemented by alert payloads that can be shown as a
// browser notification.
type AlertSummary interface {
	PushTitle() string
	PushBody() string
}

// Publish implements Sink. Only new_alert notifications are pushed; delivery
// runs on its own goroutine.
func (p *Pusher) Publish(n Notification) {
	if p == nil || n.Type != TypeNewAlert {
		return
	}
	summary, ok := n.Data.(AlertSummary)
	if !ok {
		return
	}
	payload, err := json.Marshal(pushPayload{
		Title: summary.PushTitle(),
		Body:  summary.PushBody(),
		Tag:   "alert-" + n.Identity,
	})
	if err != nil {
		p.logger.Error("encoding push payload", "error", err)
		return
	}
	go p.deliver(n.Identity, payload)
}

func (p *Pusher) deliver(identity string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	subs, err := p.subs.PushSubscriptions(ctx, identity)
	if err != nil {
		p.logger.Error("listing push subscriptions", "identity", identity, "error", err)
		return
	}
	for _, sub := range subs {
		status, err := p.sender.Send(ctx, payload, sub)
		if err == nil {
			continue
		}
		if status == http.StatusNotFound || status == http.StatusGone {
			p.logger.Info("push subscription expired, removing", "identity", identity)
			if err := p.subs.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
				p.logger.Warn("removing push subscription", "error", err)
			}
			continue
		}
		p.logger.Warn("push delivery failed", "identity", identity, "status", status, "error", err)
	}
}

type vapidSender struct {
	cfg    PushConfig
	client *http.Client
}

func (s *vapidSender) Send(ctx context.Context, payload []byte, sub store.PushSubscription) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
	})
	status := 0
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		status = resp.StatusCode
	}
	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("notify: push gateway status %d", status)
	}
	return status, nil
}

type vapidKeysFile struct {
	PublicKey  string    `json:"public_key"`
	PrivateKey string    `json:"private_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// EnsureVAPIDKeys loads the keypair stored at path, generating and
// persisting a new one when the file does not exist.
func EnsureVAPIDKeys(path string) (publicKey, privateKey string, err error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f vapidKeysFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return "", "", fmt.Errorf("notify: decoding %s: %w", path, err)
		}
		return f.PublicKey, f.PrivateKey, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", "", fmt.Errorf("notify: reading %s: %w", path, err)
	}

	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("notify: generating vapid keypair: %w", err)
	}
	f := vapidKeysFile{
		PublicKey:  strings.TrimSpace(publicKey),
		PrivateKey: strings.TrimSpace(privateKey),
		CreatedAt:  time.Now().UTC(),
	}
	raw, err = json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", "", fmt.Errorf("notify: creating key dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", "", fmt.Errorf("notify: writing %s: %w", path, err)
	}
	return f.PublicKey, f.PrivateKey, nil
}
