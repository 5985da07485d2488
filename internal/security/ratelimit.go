package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limit kinds.
const (
	KindLogin = "login"
	KindSend  = "send"
)

// RateLimitConfig holds configurable rate limits for operator-triggered
// actions. They are applied per identity.
type RateLimitConfig struct {
	LoginsPerMin int `yaml:"logins_per_min"`
	SendsPerMin  int `yaml:"sends_per_min"`
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.LoginsPerMin <= 0 {
		c.LoginsPerMin = 5
	}
	if c.SendsPerMin <= 0 {
		c.SendsPerMin = 6
	}
	return c
}

// RateLimiter implements sliding window rate limiting keyed by kind and
// identity. Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	window  time.Duration
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

type bucketKey struct {
	kind string
	key  string
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg = cfg.withDefaults()
	return &RateLimiter{
		limits: map[string]int{
			KindLogin: cfg.LoginsPerMin,
			KindSend:  cfg.SendsPerMin,
		},
		window:  time.Minute,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

// Allow records an event of the given kind for key. It returns
// ErrRateLimited when the window is already full. Unknown kinds are
// never limited.
func (rl *RateLimiter) Allow(kind, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[kind]
	if !ok {
		return nil
	}

	k := bucketKey{kind: kind, key: key}
	b, ok := rl.buckets[k]
	if !ok {
		b = &bucket{}
		rl.buckets[k] = b
	}

	now := rl.now()
	b.evict(now.Add(-rl.window))

	if len(b.events) >= limit {
		return ErrRateLimited
	}
	b.events = append(b.events, now)
	return nil
}

// Forget drops all buckets for key, e.g. after an identity logs out.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k := range rl.buckets {
		if k.key == key {
			delete(rl.buckets, k)
		}
	}
}

// evict removes events older than cutoff.
func (b *bucket) evict(cutoff time.Time) {
	// Events are chronologically ordered.
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
