package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/core"
	"github.com/flemzord/tgmonitor/internal/notify"
	"github.com/flemzord/tgmonitor/internal/security"
	"github.com/flemzord/tgmonitor/internal/store"
)

// ModuleID is the configuration key of the engine module.
const ModuleID = "engine.telegram"

// Service names the engine registers for other modules.
const (
	ServiceName    = "engine"
	HubServiceName = "notify.hub"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
	_ core.Reloader     = (*Module)(nil)
)

// Module hosts the Engine inside the application lifecycle.
type Module struct {
	config Config
	engine *Engine
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("engine: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. It needs a session module; the
// store module is optional.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	factory, ok := core.Service[bridge.Factory](ctx, "session.factory")
	if !ok {
		return errors.New("engine: no session module loaded (configure session.mtproto)")
	}
	st, ok := core.Service[store.Store](ctx, "store")
	if !ok {
		m.logger.Warn("no store module configured, settings will not survive a restart")
		st = store.NewMemory()
	}
	limiter, _ := core.Service[*security.RateLimiter](ctx, "security.ratelimiter")
	audit, _ := core.Service[*security.AuditLogger](ctx, "security.audit")

	if m.config.Push.Subject != "" && !m.config.Push.Enabled() {
		path := m.config.VAPIDKeyFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(ctx.DataDir, path)
		}
		pub, priv, err := notify.EnsureVAPIDKeys(path)
		if err != nil {
			return fmt.Errorf("engine: push keys: %w", err)
		}
		m.config.Push.VAPIDPublicKey, m.config.Push.VAPIDPrivateKey = pub, priv
	}

	if creds, ok := core.Service[*security.CredentialStore](ctx, security.CredentialsService); ok {
		creds.Set("engine.push.vapid_private_key", m.config.Push.VAPIDPrivateKey)
	}

	var sinks []notify.Sink
	if p := notify.NewPusher(m.config.Push, st, m.logger); p != nil {
		sinks = append(sinks, p)
		m.logger.Info("browser push enabled")
	}

	e, err := New(m.config, Deps{
		Factory: factory,
		Store:   st,
		Limiter: limiter,
		Audit:   audit,
		Sinks:   sinks,
		Logger:  m.logger,
	})
	if err != nil {
		return err
	}
	m.engine = e

	ctx.RegisterService(ServiceName, e)
	ctx.RegisterService(HubServiceName, e.Hub())
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.Validate()
}

// Start implements core.Starter.
func (m *Module) Start() error {
	return m.engine.Start(context.Background())
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.engine == nil {
		return nil
	}
	return m.engine.Stop(ctx)
}

// Reload implements core.Reloader. Profile metadata is applied live; any
// other change is reported and waits for a restart.
func (m *Module) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(ModuleID)
	if !ok {
		return nil
	}
	var next Config
	if err := node.Decode(&next); err != nil {
		return fmt.Errorf("engine: decode config: %w", err)
	}
	next.defaults()
	if err := next.Validate(); err != nil {
		return err
	}

	m.engine.registry.SetProfiles(next.Profiles)

	prev := m.config
	prev.Profiles, next.Profiles = nil, nil
	prev.Push, next.Push = notify.PushConfig{}, notify.PushConfig{}
	if !reflect.DeepEqual(prev, next) {
		m.logger.Warn("engine settings changed, restart to apply them")
	}
	m.config.Profiles = m.engine.registry.Profiles()
	return nil
}
