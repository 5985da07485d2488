// Package notify delivers status notifications to whoever is watching an
// identity: websocket clients, browser push endpoints and the logs.
package notify

import "time"

// Type names a notification kind.
type Type string

const (
	TypeLoginStatus      Type = "login_status"
	TypeConnectionStatus Type = "connection_status"
	TypeLogUpdate        Type = "log_update"
	TypeHeartbeat        Type = "heartbeat"
	TypeStatsUpdate      Type = "stats_update"
	TypeNewAlert         Type = "new_alert"
	TypeMonitoringStatus Type = "monitoring_status"
)

// Notification is one status event scoped to an identity.
type Notification struct {
	Type     Type      `json:"type"`
	Identity string    `json:"identity"`
	Data     any       `json:"data"`
	Time     time.Time `json:"timestamp"`
}

// Sink receives notifications. Publish must not block: sinks that do I/O
// hand the work off.
type Sink interface {
	Publish(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Publish implements Sink.
func (f SinkFunc) Publish(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

// Fanout publishes to every sink in order.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(n Notification) {
	for _, s := range f {
		s.Publish(n)
	}
}

// New builds a notification stamped with the current time.
func New(identity string, typ Type, data any) Notification {
	return Notification{Type: typ, Identity: identity, Data: data, Time: time.Now()}
}

// LogLine is the payload of a log_update notification.
type LogLine struct {
	Message string `json:"message"`
}

// Log builds a log_update notification.
func Log(identity, message string) Notification {
	return New(identity, TypeLogUpdate, LogLine{Message: message})
}

// Status is the payload of login and connection status notifications.
type Status struct {
	State   string `json:"status"`
	Message string `json:"message,omitempty"`
	Wait    int    `json:"wait_seconds,omitempty"`
}

// Heartbeat is the payload of a heartbeat notification.
type Heartbeat struct {
	Status string `json:"status"`
	Uptime int    `json:"uptime_seconds,omitempty"`
}
