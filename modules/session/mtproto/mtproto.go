// Package mtproto provides the remote session implementation on top of
// the gotd MTProto client. Each identity gets its own client and its own
// session file in the sessions directory.
package mtproto

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tgmonitor/internal/core"
	"github.com/flemzord/tgmonitor/internal/security"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// Config holds the MTProto application credentials and client options.
type Config struct {
	AppID   int    `yaml:"app_id"`
	AppHash string `yaml:"app_hash"`

	// SessionsDir overrides the application sessions directory.
	SessionsDir string `yaml:"sessions_dir"`

	DeviceModel   string `yaml:"device_model"`
	SystemVersion string `yaml:"system_version"`
	AppVersion    string `yaml:"app_version"`

	// TestDC connects to the network's test data centers.
	TestDC bool `yaml:"test_dc"`
}

func (c *Config) defaults() {
	if c.DeviceModel == "" {
		c.DeviceModel = "tgmonitor"
	}
	if c.SystemVersion == "" {
		c.SystemVersion = "linux"
	}
	if c.AppVersion == "" {
		c.AppVersion = "1.0"
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.AppID <= 0 {
		errs = append(errs, errors.New("mtproto: app_id is required"))
	}
	if strings.TrimSpace(c.AppHash) == "" {
		errs = append(errs, errors.New("mtproto: app_hash is required"))
	}
	return errors.Join(errs...)
}

// Module registers the "session.factory" service.
type Module struct {
	config  Config
	factory *Factory
	logger  *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "session.mtproto",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("mtproto: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	if m.config.SessionsDir == "" {
		m.config.SessionsDir = ctx.SessionsDir
	}
	if err := os.MkdirAll(m.config.SessionsDir, 0o700); err != nil {
		return fmt.Errorf("mtproto: create sessions dir: %w", err)
	}

	if creds, ok := core.Service[*security.CredentialStore](ctx, security.CredentialsService); ok {
		creds.Set("session.mtproto.app_hash", m.config.AppHash)
	}

	m.factory = NewFactory(m.config, m.logger)
	ctx.RegisterService("session.factory", m.factory)

	m.logger.Info("mtproto session factory provisioned",
		"sessions_dir", m.config.SessionsDir,
		"test_dc", m.config.TestDC,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}
