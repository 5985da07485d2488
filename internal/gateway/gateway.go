// Package gateway serves the HTTP API of the monitor: identity login and
// settings, monitoring control, broadcasts, a websocket notification feed
// and browser push registration. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tgmonitor/internal/core"
	"github.com/flemzord/tgmonitor/internal/engine"
	"github.com/flemzord/tgmonitor/internal/security"
)

func init() {
	core.RegisterModule(&Gateway{})
}

var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// ConfigReloader reloads the configuration file at path.
type ConfigReloader interface {
	HandleReload(ctx context.Context, path string) error
}

// Service names the gateway looks up at Start.
const (
	ConfigPathService = "config.path"
	ReloaderService   = "config.reloader"
)

// Gateway is the HTTP gateway module. It is a leaf module: nothing
// depends on it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	engine   *engine.Engine
	audit    *security.AuditLogger
	reloader ConfigReloader
	// configPath is the file served by /api/config, if known.
	configPath string
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	if creds, ok := core.Service[*security.CredentialStore](ctx, security.CredentialsService); ok {
		creds.Set("gateway.http.bearer_token", g.config.Auth.BearerToken)
		creds.Set("gateway.http.basic_pass", g.config.Auth.BasicPass)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves the engine from the service
// registry and starts the HTTP server.
func (g *Gateway) Start() error {
	eng, ok := core.Service[*engine.Engine](g.appCtx, engine.ServiceName)
	if !ok {
		return errors.New("gateway: engine service not available (configure engine.telegram)")
	}
	g.engine = eng
	g.audit, _ = core.Service[*security.AuditLogger](g.appCtx, "security.audit")
	g.reloader, _ = core.Service[ConfigReloader](g.appCtx, ReloaderService)
	g.configPath, _ = core.Service[string](g.appCtx, ConfigPathService)

	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway auth not configured: only /health and /metrics are served")
	}

	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadTimeout:       g.config.ReadTimeout,
		ReadHeaderTimeout: g.config.ReadTimeout,
		WriteTimeout:      g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
