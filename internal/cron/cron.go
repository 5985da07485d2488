// Package cron runs periodic housekeeping for the monitor: flushing
// broadcast statistics to the store and releasing idle sessions.
package cron

import "context"

// Job is a periodic background task.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string

	// Schedule returns a 5-field cron expression (e.g. "*/5 * * * *").
	Schedule() string

	// Run executes one tick. Implementations check ctx.Done() between
	// units of work.
	Run(ctx context.Context) error
}
