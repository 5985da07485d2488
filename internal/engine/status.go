package engine

import (
	"time"

	"github.com/flemzord/tgmonitor/internal/auth"
	"github.com/flemzord/tgmonitor/internal/identity"
)

// IdentityStatus is the operator view of one identity.
type IdentityStatus struct {
	ID       string            `json:"id"`
	Profile  identity.Profile  `json:"profile"`
	Login    auth.LoginStatus  `json:"login"`
	Settings identity.Settings `json:"settings"`
	Stats    identity.Stats    `json:"stats"`

	MonitoringActive    bool      `json:"monitoring_active"`
	MonitoringStartedAt time.Time `json:"monitoring_started_at,omitzero"`
	LastHeartbeat       time.Time `json:"last_heartbeat,omitzero"`
	LastScheduledSend   time.Time `json:"last_scheduled_send,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
}

func statusOf(rec identity.Identity) IdentityStatus {
	return IdentityStatus{
		ID:                  rec.ID,
		Profile:             rec.Profile,
		Login:               auth.StatusOf(rec),
		Settings:            rec.Settings,
		Stats:               rec.Stats,
		MonitoringActive:    rec.MonitoringActive,
		MonitoringStartedAt: rec.MonitoringStartedAt,
		LastHeartbeat:       rec.LastHeartbeat,
		LastScheduledSend:   rec.LastScheduledSend,
		LastError:           rec.LastError,
	}
}

func idleStatus(p identity.Profile) IdentityStatus {
	return IdentityStatus{
		ID:       p.ID,
		Profile:  p,
		Login:    auth.LoginStatus{State: identity.StateUnbound.String()},
		Settings: identity.DefaultSettings(),
	}
}

// Status reports the state of one identity. Configured slots without a
// record report as unbound.
func (e *Engine) Status(id string) (IdentityStatus, error) {
	if rec, ok := e.registry.Get(id); ok {
		return statusOf(rec), nil
	}
	for _, p := range e.registry.Profiles() {
		if p.ID == id {
			return idleStatus(p), nil
		}
	}
	return IdentityStatus{}, ErrUnknownIdentity
}

// StatusAll reports every configured slot in order, followed by the other
// live identities sorted by ID.
func (e *Engine) StatusAll() []IdentityStatus {
	records := e.registry.List()
	byID := make(map[string]identity.Identity, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	profiles := e.registry.Profiles()
	out := make([]IdentityStatus, 0, len(profiles)+len(records))
	slots := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		slots[p.ID] = true
		if rec, ok := byID[p.ID]; ok {
			out = append(out, statusOf(rec))
			continue
		}
		out = append(out, idleStatus(p))
	}
	for _, rec := range records {
		if !slots[rec.ID] {
			out = append(out, statusOf(rec))
		}
	}
	return out
}
