// Package reload applies configuration changes to a running monitor. The
// configuration file is polled, and SIGHUP or the API can trigger a
// reload directly.
package reload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often to check for file changes.
	// Defaults to 5 seconds if zero.
	PollInterval time.Duration
}

func (c WatcherConfig) pollIntervalOrDefault() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// EventType describes the type of file change event.
type EventType string

const (
	// EventModified indicates the config file content changed.
	EventModified EventType = "modified"
)

// Event represents a file change notification.
type Event struct {
	Type       EventType
	ConfigPath string
}

// fileState is what the watcher compares between polls. The digest is
// only computed when the modification time or size moved.
type fileState struct {
	mod    time.Time
	size   int64
	digest []byte
}

// Watcher polls a configuration file and reports content changes. Editors
// that rewrite a file without changing it, or a touch, do not produce an
// event.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the channel of file change events. Pending events are
// coalesced: the channel holds at most one.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher. Safe to call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.pollIntervalOrDefault())
	defer ticker.Stop()

	last, _ := w.read(fileState{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current, ok := w.read(last)
			if !ok {
				// Missing or unreadable: keep the last good state so a
				// delete-and-recreate still compares against it.
				continue
			}
			changed := last.digest != nil && !bytes.Equal(current.digest, last.digest)
			last = current
			if !changed {
				continue
			}
			select {
			case w.events <- Event{Type: EventModified, ConfigPath: w.cfg.ConfigPath}:
			default:
			}
		}
	}
}

// read returns the file state, reusing prev's digest when the file looks
// untouched.
func (w *Watcher) read(prev fileState) (fileState, bool) {
	info, err := os.Stat(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	st := fileState{mod: info.ModTime(), size: info.Size()}
	if prev.digest != nil && st.mod.Equal(prev.mod) && st.size == prev.size {
		st.digest = prev.digest
		return st, true
	}
	raw, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	sum := sha256.Sum256(raw)
	st.digest = sum[:]
	return st, true
}
