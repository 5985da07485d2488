package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{LoginsPerMin: 3})

	for i := range 3 {
		if err := rl.Allow(KindLogin, "user_1"); err != nil {
			t.Fatalf("Allow(%d) returned error: %v", i, err)
		}
	}
	if err := rl.Allow(KindLogin, "user_1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Buckets are per identity.
	if err := rl.Allow(KindLogin, "user_2"); err != nil {
		t.Fatalf("other identity should not be limited: %v", err)
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{SendsPerMin: 2})
	rl.now = func() time.Time { return now }

	_ = rl.Allow(KindSend, "user_1")
	_ = rl.Allow(KindSend, "user_1")

	if err := rl.Allow(KindSend, "user_1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	now = now.Add(61 * time.Second)

	if err := rl.Allow(KindSend, "user_1"); err != nil {
		t.Fatalf("expected allow after window, got %v", err)
	}
}

func TestRateLimiter_UnknownKind(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})
	for range 100 {
		if err := rl.Allow("unknown_kind", "user_1"); err != nil {
			t.Fatalf("expected nil for unknown kind, got %v", err)
		}
	}
}

func TestRateLimiter_Forget(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{LoginsPerMin: 1})
	_ = rl.Allow(KindLogin, "user_1")
	if err := rl.Allow(KindLogin, "user_1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	rl.Forget("user_1")

	if err := rl.Allow(KindLogin, "user_1"); err != nil {
		t.Fatalf("expected allow after Forget, got %v", err)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{SendsPerMin: 50})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(KindSend, "user_1") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("allowed = %d, want 50", allowed)
	}
}
