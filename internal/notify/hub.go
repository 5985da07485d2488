package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Hub fans notifications out to per-identity subscribers. Delivery is
// at-most-once: a subscriber whose buffer is full misses the notification.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

var _ Sink = (*Hub)(nil)

// Subscription is a live feed for one identity, or for all identities when
// the identity is empty.
type Subscription struct {
	identity string
	ch       chan Notification
	dropped  atomic.Int64
	once     sync.Once
}

// C yields notifications until the subscription is closed.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Dropped returns how many notifications this subscriber missed.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// NewHub creates a hub whose subscribers buffer up to buffer notifications.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.With("component", "notify.hub"),
	}
}

// Subscribe registers a new subscriber for identity ("" for every identity).
func (h *Hub) Subscribe(identity string) *Subscription {
	sub := &Subscription{identity: identity, ch: make(chan Notification, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[identity]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[identity] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.identity]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.identity)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Subscribers returns the number of subscribers watching identity,
// including those watching every identity.
func (h *Hub) Subscribers(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.subs[identity])
	if identity != "" {
		n += len(h.subs[""])
	}
	return n
}

// Publish implements Sink.
func (h *Hub) Publish(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.subs[n.Identity], n)
	if n.Identity != "" {
		h.deliver(h.subs[""], n)
	}
}

func (h *Hub) deliver(set map[*Subscription]struct{}, n Notification) {
	for sub := range set {
		select {
		case sub.ch <- n:
		default:
			if sub.dropped.Add(1) == 1 {
				h.logger.Warn("subscriber too slow, dropping notifications", "identity", n.Identity, "type", n.Type)
			}
		}
	}
}
