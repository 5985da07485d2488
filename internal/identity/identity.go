// Package identity holds the per-identity session records and the registry
// that guards them.
package identity

import (
	"time"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

// Profile is the display metadata of a selectable identity slot.
type Profile struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Icon  string `yaml:"icon" json:"icon"`
	Color string `yaml:"color" json:"color"`
}

// DefaultProfiles are the five identity slots offered out of the box.
func DefaultProfiles() []Profile {
	return []Profile{
		{ID: "user_1", Name: "First user", Icon: "fas fa-user", Color: "#007bff"},
		{ID: "user_2", Name: "Second user", Icon: "fas fa-user-tie", Color: "#28a745"},
		{ID: "user_3", Name: "Third user", Icon: "fas fa-user-graduate", Color: "#ffc107"},
		{ID: "user_4", Name: "Fourth user", Icon: "fas fa-user-cog", Color: "#dc3545"},
		{ID: "user_5", Name: "Fifth user", Icon: "fas fa-user-astronaut", Color: "#6f42c1"},
	}
}

// PendingAuth is the login context kept between requesting a code and
// submitting it.
type PendingAuth struct {
	Phone    string
	CodeHash string
}

// Identity is the live record of one account. Values handed out by the
// Registry are copies; mutate through Registry.Update.
type Identity struct {
	ID       string
	Profile  Profile
	State    State
	Settings Settings
	Stats    Stats
	Pending  PendingAuth
	// Bridge is the execution loop bound to this identity, if any. The
	// pointer is shared between copies.
	Bridge *bridge.Bridge

	IsRunning           bool
	MonitoringActive    bool
	LastScheduledSend   time.Time
	MonitoringStartedAt time.Time
	LastHeartbeat       time.Time
	LastError           string
}

func (id *Identity) clone() Identity {
	cp := *id
	cp.Settings = id.Settings.Clone()
	return cp
}

// Connected reports whether the identity has an authenticated, running bridge.
func (id Identity) Connected() bool {
	return id.State == StateAuthenticated && id.Bridge != nil && id.Bridge.Running()
}
