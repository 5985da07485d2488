package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/identity"
)

// IdentitySource lists the live identity records.
type IdentitySource interface {
	List() []identity.Identity
}

// StatsSaver persists broadcast statistics.
type StatsSaver interface {
	SaveStats(ctx context.Context, id string, s identity.Stats) error
}

// StatsFlushJob writes the broadcast counters of every identity whose
// counters changed since the previous flush.
type StatsFlushJob struct {
	Source       IdentitySource
	Store        StatsSaver
	Logger       *slog.Logger
	ScheduleExpr string // empty = "*/5 * * * *"

	mu      sync.Mutex
	flushed map[string]identity.Stats
}

var _ Job = (*StatsFlushJob)(nil)

// Name implements Job.
func (j *StatsFlushJob) Name() string { return "stats.flush" }

// Schedule implements Job.
func (j *StatsFlushJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run saves changed counters. A failed save is retried on the next tick.
func (j *StatsFlushJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.flushed == nil {
		j.flushed = make(map[string]identity.Stats)
	}

	var errs []error
	saved := 0
	for _, rec := range j.Source.List() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cron: stats flush cancelled: %w", err)
		}
		if prev, ok := j.flushed[rec.ID]; ok && prev == rec.Stats {
			continue
		}
		if err := j.Store.SaveStats(ctx, rec.ID, rec.Stats); err != nil {
			errs = append(errs, fmt.Errorf("cron: save stats for %s: %w", rec.ID, err))
			continue
		}
		j.flushed[rec.ID] = rec.Stats
		saved++
	}
	if saved > 0 {
		j.logger().Debug("flushed identity stats", "count", saved)
	}
	return errors.Join(errs...)
}

func (j *StatsFlushJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// BridgeDetacher releases the bridge bound to an identity.
type BridgeDetacher interface {
	IdentitySource
	DetachBridge(id string) *bridge.Bridge
}

// BridgeSweepJob stops the bridges of identities that ended up disconnected
// or failed and are not being monitored, so their network connections do
// not linger until the next login attempt.
type BridgeSweepJob struct {
	Registry     BridgeDetacher
	Logger       *slog.Logger
	ScheduleExpr string // empty = "*/10 * * * *"
}

var _ Job = (*BridgeSweepJob)(nil)

// Name implements Job.
func (j *BridgeSweepJob) Name() string { return "bridge.sweep" }

// Schedule implements Job.
func (j *BridgeSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run implements Job.
func (j *BridgeSweepJob) Run(ctx context.Context) error {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, rec := range j.Registry.List() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cron: bridge sweep cancelled: %w", err)
		}
		if !idle(rec) {
			continue
		}
		b := j.Registry.DetachBridge(rec.ID)
		if b == nil {
			continue
		}
		b.Stop()
		logger.Info("released idle session", "identity", rec.ID, "state", rec.State.String())
	}
	return nil
}

func idle(rec identity.Identity) bool {
	if rec.Bridge == nil || rec.IsRunning {
		return false
	}
	return rec.State == identity.StateDisconnected || rec.State == identity.StateFailed
}
