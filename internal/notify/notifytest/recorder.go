// Package notifytest provides a recording notify.Sink for tests.
package notifytest

import (
	"sync"
	"time"

	"github.com/flemzord/tgmonitor/internal/notify"
)

// Recorder stores every published notification.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Notification
	signal chan struct{}
}

var _ notify.Sink = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{signal: make(chan struct{}, 1)}
}

// Publish implements notify.Sink.
func (r *Recorder) Publish(n notify.Notification) {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notification, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded notifications of type typ.
func (r *Recorder) OfType(typ notify.Type) []notify.Notification {
	var out []notify.Notification
	for _, n := range r.All() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// WaitFor blocks until at least n notifications of type typ were recorded
// or the timeout expires, and returns them.
func (r *Recorder) WaitFor(typ notify.Type, n int, timeout time.Duration) []notify.Notification {
	deadline := time.After(timeout)
	for {
		if got := r.OfType(typ); len(got) >= n {
			return got
		}
		select {
		case <-r.signal:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return r.OfType(typ)
		}
	}
}
