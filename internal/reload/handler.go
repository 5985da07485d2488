package reload

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/flemzord/tgmonitor/internal/config"
	"github.com/flemzord/tgmonitor/internal/core"
)

// Handler re-reads the configuration file and hands the new module
// sections to every loaded module that implements core.Reloader. Modules
// keep the services registered at startup: the reload context is derived
// from the running one.
type Handler struct {
	app    *core.App
	base   *core.AppContext
	logger *slog.Logger

	// mu serializes reloads coming from the watcher, SIGHUP and the API.
	mu sync.Mutex
}

// NewHandler creates a reload handler for app. base is the context the
// app was provisioned with.
func NewHandler(app *core.App, base *core.AppContext) *Handler {
	return &Handler{
		app:    app,
		base:   base,
		logger: base.Logger.With("component", "reload"),
	}
}

// HandleReload loads a fresh config from disk, validates it, and calls Reload
// on all modules that implement core.Reloader.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.HandleReloadFromConfig(ctx, cfg)
}

// HandleReloadFromConfig reloads modules from an already validated config.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	added, removed := h.moduleChanges(cfg)
	if len(added) > 0 || len(removed) > 0 {
		h.logger.Warn("module set changed, restart to apply",
			"added", added, "removed", removed)
	}

	if err := h.app.ReloadModules(h.base.WithModuleConfigs(cfg.Modules)); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}

	h.logger.Info("configuration reloaded successfully")
	return nil
}

// moduleChanges compares the configured module IDs with the loaded ones.
// Modules are only added or removed at startup.
func (h *Handler) moduleChanges(cfg *config.Config) (added, removed []string) {
	want := config.Resolve(cfg)
	for _, id := range want {
		if _, ok := h.app.Module(id); !ok {
			added = append(added, id)
		}
	}
	for _, id := range h.app.ModuleIDs() {
		if !slices.Contains(want, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
