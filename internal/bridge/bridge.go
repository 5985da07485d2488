// Package bridge runs each identity's remote session on a dedicated
// goroutine and lets the rest of the process submit work to it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/tgmonitor/internal/metrics"
)

const tracerName = "github.com/flemzord/tgmonitor/internal/bridge"

// Config tunes a Bridge. Zero values are replaced with defaults.
type Config struct {
	StartTimeout  time.Duration `yaml:"start_timeout"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
	// InboundBuffer bounds inbound messages waiting for the loop.
	InboundBuffer int `yaml:"inbound_buffer"`
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 256
	}
	return c
}

// Op is a unit of work executed on the loop that owns the remote session.
type Op func(ctx context.Context, r Remote) error

// Handler receives inbound messages on the loop goroutine. It must not call
// Submit synchronously; work that needs the session goes through a goroutine.
type Handler func(ctx context.Context, msg Inbound)

type state int

const (
	stateIdle state = iota
	stateStarting
	stateRunning
	stateStopped
)

type command struct {
	ctx   context.Context
	name  string
	op    Op
	reply chan error
}

// Bridge owns one Remote and executes every operation on it from a single
// goroutine, in submission order. A Bridge is started at most once; after
// Stop a new Bridge must be created.
type Bridge struct {
	identity string
	remote   Remote
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	state    state
	handler  Handler
	startErr error
	ready    chan struct{}

	cmds    chan command
	inbound chan Inbound
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Bridge around remote. The loop is not started until Start.
func New(identity string, remote Remote, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		identity: identity,
		remote:   remote,
		cfg:      cfg,
		logger:   logger.With("component", "bridge", "identity", identity),
		tracer:   otel.Tracer(tracerName),
		ready:    make(chan struct{}),
		cmds:     make(chan command),
		inbound:  make(chan Inbound, cfg.InboundBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetHandler registers the function that receives inbound messages.
// It may be called before or after Start.
func (b *Bridge) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Start launches the loop if it is not already running and waits until the
// remote session is connected. Concurrent callers share one loop and all
// observe the same outcome.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case stateStopped:
		b.mu.Unlock()
		return ErrNotRunning
	case stateIdle:
		b.state = stateStarting
		go b.run()
	}
	ready := b.ready
	b.mu.Unlock()

	timer := time.NewTimer(b.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
		return ErrInitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return fmt.Errorf("bridge: connecting %s: %w", b.identity, b.startErr)
	}
	if b.state != stateRunning {
		return ErrNotRunning
	}
	return nil
}

// Running reports whether the loop is accepting work.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateRunning
}

// Submit executes op on the loop and waits for its result. It fails fast
// with ErrNotRunning once the bridge is stopped and with ErrOperationTimeout
// when the result does not arrive in time. The deadline of ctx bounds the
// call; SubmitTimeout applies when ctx has none. A panic inside op is
// returned as an error wrapping ErrPanic.
func (b *Bridge) Submit(ctx context.Context, name string, op Op) (err error) {
	ctx, span := b.tracer.Start(ctx, "bridge.submit", trace.WithAttributes(
		attribute.String("identity", b.identity),
		attribute.String("op", name),
	))
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.SubmitDuration.WithLabelValues(name, outcome).Observe(time.Since(started).Seconds())
		span.End()
	}()

	if !b.Running() {
		return ErrNotRunning
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.SubmitTimeout)
		defer cancel()
	}

	cmd := command{ctx: ctx, name: name, op: op, reply: make(chan error, 1)}

	select {
	case b.cmds <- cmd:
	case <-b.done:
		return ErrNotRunning
	case <-ctx.Done():
		return submitErr(ctx)
	}

	select {
	case err := <-cmd.reply:
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return submitErr(ctx)
		}
		return err
	case <-b.done:
		return ErrNotRunning
	case <-ctx.Done():
		return submitErr(ctx)
	}
}

func submitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrOperationTimeout
	}
	return ctx.Err()
}

// Call is Submit for operations that produce a value.
func Call[T any](ctx context.Context, b *Bridge, name string, fn func(ctx context.Context, r Remote) (T, error)) (T, error) {
	var out T
	err := b.Submit(ctx, name, func(ctx context.Context, r Remote) error {
		v, err := fn(ctx, r)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Stop terminates the loop and disconnects the remote session. It waits at
// most the configured stop timeout for the loop to exit. Calling Stop on a
// bridge that never started, or twice, is harmless.
func (b *Bridge) Stop() {
	b.mu.Lock()
	prev := b.state
	b.state = stateStopped
	b.mu.Unlock()

	switch prev {
	case stateStopped:
		return
	case stateIdle:
		b.cancel()
		close(b.done)
		return
	}

	b.cancel()

	timer := time.NewTimer(b.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-b.done:
	case <-timer.C:
		b.logger.Warn("bridge loop did not exit in time", "timeout", b.cfg.StopTimeout)
	}
}

// Done is closed once the loop has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) run() {
	defer close(b.done)

	b.remote.OnMessage(b.deliver)

	err := b.remote.Connect(b.ctx)

	b.mu.Lock()
	b.startErr = err
	if err == nil && b.state == stateStarting {
		b.state = stateRunning
	}
	running := b.state == stateRunning
	b.mu.Unlock()
	close(b.ready)

	if !running {
		if err != nil {
			b.logger.Error("remote session connect failed", "error", err)
			return
		}
		// Stopped while connecting.
		b.shutdown()
		return
	}

	metrics.BridgesRunning.Inc()
	defer metrics.BridgesRunning.Dec()
	b.logger.Info("bridge loop started")

	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return
		case cmd := <-b.cmds:
			cmd.reply <- b.exec(cmd)
		case msg := <-b.inbound:
			b.dispatch(msg)
		}
	}
}

func (b *Bridge) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.StopTimeout)
	defer cancel()
	if err := b.remote.Disconnect(ctx); err != nil {
		b.logger.Warn("remote session disconnect failed", "error", err)
	}
	b.logger.Info("bridge loop stopped")
}

func (b *Bridge) exec(cmd command) (err error) {
	if err := cmd.ctx.Err(); err != nil {
		return submitErr(cmd.ctx)
	}

	ctx, cancel := context.WithCancel(cmd.ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge operation panicked", "op", cmd.name, "panic", r)
			err = fmt.Errorf("%w: %s: %v", ErrPanic, cmd.name, r)
		}
	}()
	return cmd.op(ctx, b.remote)
}

// deliver is called by the remote session from its own goroutines. The
// message is handed to the loop so handlers never run concurrently with
// submitted operations. When the buffer is full the message is dropped.
func (b *Bridge) deliver(_ context.Context, msg Inbound) {
	select {
	case b.inbound <- msg:
	case <-b.ctx.Done():
	default:
		b.logger.Warn("inbound buffer full, message dropped", "chat_id", msg.Chat.ID)
	}
}

func (b *Bridge) dispatch(msg Inbound) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("inbound handler panicked", "panic", r, "chat_id", msg.Chat.ID)
		}
	}()
	h(b.ctx, msg)
}
