package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/bridge/bridgetest"
)

func newBridge(t *testing.T, r bridge.Remote, cfg bridge.Config) *bridge.Bridge {
	t.Helper()
	b := bridge.New("user_1", r, cfg, nil)
	t.Cleanup(b.Stop)
	return b
}

func TestBridge_ConcurrentStartSingleLoop(t *testing.T) {
	t.Parallel()

	remote := bridgetest.NewRemote()
	remote.ConnectGate = make(chan struct{})
	b := newBridge(t, remote, bridge.Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Start(context.Background())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(remote.ConnectGate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if got := remote.ConnectCount(); got != 1 {
		t.Fatalf("Connect called %d times, want 1", got)
	}
	if !b.Running() {
		t.Fatal("bridge should be running")
	}
}

func TestBridge_StartTimeout(t *testing.T) {
	t.Parallel()

	remote := bridgetest.NewRemote()
	remote.ConnectGate = make(chan struct{})
	b := newBridge(t, remote, bridge.Config{StartTimeout: 20 * time.Millisecond})

	if err := b.Start(context.Background()); !errors.Is(err, bridge.ErrInitTimeout) {
		t.Fatalf("Start = %v, want ErrInitTimeout", err)
	}
}

func TestBridge_StartConnectError(t *testing.T) {
	t.Parallel()

	remote := bridgetest.NewRemote()
	remote.ConnectErr = errors.New("dial refused")
	b := newBridge(t, remote, bridge.Config{})

	err := b.Start(context.Background())
	if err == nil || !errors.Is(err, remote.ConnectErr) {
		t.Fatalf("Start = %v, want wrapped connect error", err)
	}
	if err := b.Submit(context.Background(), "noop", func(context.Context, bridge.Remote) error { return nil }); !errors.Is(err, bridge.ErrNotRunning) {
		t.Fatalf("Submit after failed start = %v, want ErrNotRunning", err)
	}
}

func TestBridge_SubmitRunsInOrder(t *testing.T) {
	t.Parallel()

	b := newBridge(t, bridgetest.NewRemote(), bridge.Config{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		order []int
	)
	for i := range 5 {
		err := b.Submit(context.Background(), "append", func(context.Context, bridge.Remote) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestBridge_SubmitPropagatesErrorAndPanic(t *testing.T) {
	t.Parallel()

	b := newBridge(t, bridgetest.NewRemote(), bridge.Config{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := b.Submit(context.Background(), "fail", func(context.Context, bridge.Remote) error {
		return bridge.ErrCodeInvalid
	})
	if !errors.Is(err, bridge.ErrCodeInvalid) {
		t.Fatalf("Submit = %v, want ErrCodeInvalid", err)
	}

	err = b.Submit(context.Background(), "boom", func(context.Context, bridge.Remote) error {
		panic("kaboom")
	})
	if !errors.Is(err, bridge.ErrPanic) {
		t.Fatalf("Submit = %v, want ErrPanic", err)
	}

	// The loop survives a panicking op.
	if err := b.Submit(context.Background(), "noop", func(context.Context, bridge.Remote) error { return nil }); err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
}

func TestBridge_SubmitTimeout(t *testing.T) {
	t.Parallel()

	b := newBridge(t, bridgetest.NewRemote(), bridge.Config{SubmitTimeout: 30 * time.Millisecond})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := b.Submit(context.Background(), "slow", func(ctx context.Context, _ bridge.Remote) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, bridge.ErrOperationTimeout) {
		t.Fatalf("Submit = %v, want ErrOperationTimeout", err)
	}
}

func TestBridge_SubmitDeadline(t *testing.T) {
	t.Parallel()

	b := newBridge(t, bridgetest.NewRemote(), bridge.Config{SubmitTimeout: 20 * time.Millisecond})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	wait := func(d time.Duration) bridge.Op {
		return func(ctx context.Context, _ bridge.Remote) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	tests := []struct {
		name    string
		timeout time.Duration
		op      time.Duration
		wantErr error
	}{
		{name: "longer deadline than the default", timeout: time.Second, op: 80 * time.Millisecond},
		{name: "shorter deadline than the op", timeout: 20 * time.Millisecond, op: time.Second, wantErr: bridge.ErrOperationTimeout},
	}
	for _, tt := range tests {
		ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
		err := b.Submit(ctx, "wait", wait(tt.op))
		cancel()
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: Submit = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestBridge_SubmitAfterStopFailsFast(t *testing.T) {
	t.Parallel()

	remote := bridgetest.NewRemote()
	b := newBridge(t, remote, bridge.Config{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	b.Stop()

	start := time.Now()
	err := b.Submit(context.Background(), "late", func(context.Context, bridge.Remote) error { return nil })
	if !errors.Is(err, bridge.ErrNotRunning) {
		t.Fatalf("Submit = %v, want ErrNotRunning", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Submit after Stop should not wait")
	}
	if remote.DisconnectCount() != 1 {
		t.Fatalf("Disconnect called %d times, want 1", remote.DisconnectCount())
	}
	if err := b.Start(context.Background()); !errors.Is(err, bridge.ErrNotRunning) {
		t.Fatalf("Start after Stop = %v, want ErrNotRunning", err)
	}
}

func TestBridge_StopWithoutStart(t *testing.T) {
	t.Parallel()

	b := bridge.New("user_1", bridgetest.NewRemote(), bridge.Config{}, nil)
	b.Stop()
	b.Stop()

	select {
	case <-b.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestBridge_InboundRunsOnLoop(t *testing.T) {
	t.Parallel()

	remote := bridgetest.NewRemote()
	b := newBridge(t, remote, bridge.Config{})

	got := make(chan bridge.Inbound, 1)
	b.SetHandler(func(_ context.Context, msg bridge.Inbound) {
		got <- msg
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	remote.Emit(context.Background(), bridge.Inbound{MessageID: 7, Text: "hello"})

	select {
	case msg := <-got:
		if msg.MessageID != 7 {
			t.Fatalf("MessageID = %d, want 7", msg.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestCall(t *testing.T) {
	t.Parallel()

	b := newBridge(t, bridgetest.NewRemote(), bridge.Config{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ok, err := bridge.Call(context.Background(), b, "is_authorized", func(ctx context.Context, r bridge.Remote) (bool, error) {
		return r.IsAuthorized(ctx)
	})
	if err != nil || !ok {
		t.Fatalf("Call = %v, %v; want true, nil", ok, err)
	}
}

func TestAsRateLimit(t *testing.T) {
	t.Parallel()

	err := errors.Join(errors.New("wrapped"), &bridge.RateLimitError{Wait: 42 * time.Second})
	rl, ok := bridge.AsRateLimit(err)
	if !ok || rl.Wait != 42*time.Second {
		t.Fatalf("AsRateLimit = %v, %v", rl, ok)
	}
	if rl.Error() != "rate limited: retry in 42 seconds" {
		t.Errorf("Error() = %q", rl.Error())
	}
}
