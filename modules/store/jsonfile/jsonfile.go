// Package jsonfile implements the store module as one JSON document per
// identity, "<id>.json", in the sessions directory. Push subscriptions
// live in a single push_subscriptions.json next to them.
package jsonfile

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tgmonitor/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the jsonfile store configuration.
type Config struct {
	// Dir holds the documents. Defaults to the sessions directory.
	Dir string `yaml:"dir"`
}

// Module provides the "store" service backed by JSON files.
type Module struct {
	config Config
	store  *Store
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.jsonfile",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("jsonfile: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	if m.config.Dir == "" {
		m.config.Dir = ctx.SessionsDir
	}
	st, err := Open(m.config.Dir)
	if err != nil {
		return err
	}
	m.store = st
	ctx.RegisterService("store", m.store)
	m.logger.Info("jsonfile store provisioned", "dir", m.config.Dir)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
