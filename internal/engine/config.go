package engine

import (
	"errors"
	"fmt"

	"github.com/flemzord/tgmonitor/internal/alert"
	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/broadcast"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/ingest"
	"github.com/flemzord/tgmonitor/internal/notify"
	"github.com/flemzord/tgmonitor/internal/supervisor"
)

// Config is the engine.telegram module configuration.
type Config struct {
	// Profiles are the identity slots offered to operators. Defaults to
	// user_1 through user_5.
	Profiles []identity.Profile `yaml:"profiles"`

	// RestoreSessions reconnects every persisted identity at startup.
	RestoreSessions *bool `yaml:"restore_sessions"`

	// HubBuffer bounds the notifications queued per live subscriber.
	HubBuffer int `yaml:"hub_buffer"`

	StatsFlushSchedule string `yaml:"stats_flush_schedule"`
	SweepSchedule      string `yaml:"sweep_schedule"`

	Bridge     bridge.Config     `yaml:"bridge"`
	Alerts     alert.Config      `yaml:"alerts"`
	Ingest     ingest.Config     `yaml:"ingest"`
	Broadcast  broadcast.Config  `yaml:"broadcast"`
	Monitoring supervisor.Config `yaml:"monitoring"`

	Push notify.PushConfig `yaml:"push"`
	// VAPIDKeyFile stores generated push keys when push.subject is set
	// without explicit keys. Relative to the data directory.
	VAPIDKeyFile string `yaml:"vapid_key_file"`
}

func (c *Config) defaults() {
	if len(c.Profiles) == 0 {
		c.Profiles = identity.DefaultProfiles()
	}
	if c.RestoreSessions == nil {
		on := true
		c.RestoreSessions = &on
	}
	if c.VAPIDKeyFile == "" {
		c.VAPIDKeyFile = "vapid.json"
	}
}

func (c Config) restore() bool {
	return c.RestoreSessions == nil || *c.RestoreSessions
}

// Validate checks profiles, monitoring and push settings.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("engine: profiles[%d]: id is required", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("engine: profiles[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
	}
	if err := c.Monitoring.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Alerts.AdminInvite != "" && c.Alerts.AdminChat == "" {
		errs = append(errs, errors.New("engine: alerts.admin_invite needs alerts.admin_chat"))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("engine: push needs both vapid_public_key and vapid_private_key"))
	}
	if c.Push.Enabled() && c.Push.Subject == "" {
		errs = append(errs, errors.New("engine: push.subject is required when push keys are set"))
	}
	return errors.Join(errs...)
}
