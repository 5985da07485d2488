// Package app is the process entry point shared by the tgmonitor commands:
// it loads the configuration, assembles the modules and runs them until
// shutdown.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flemzord/tgmonitor/internal/config"
	"github.com/flemzord/tgmonitor/internal/core"
	"github.com/flemzord/tgmonitor/internal/gateway"
	"github.com/flemzord/tgmonitor/internal/reload"
	"github.com/flemzord/tgmonitor/internal/security"
)

const tracingShutdownTimeout = 5 * time.Second

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// SessionsDir overrides sessions_dir from the configuration.
	SessionsDir string

	// LogLevel, when set, overrides logging.level from the configuration.
	LogLevel *slog.Level

	// Console receives log output. Defaults to os.Stderr.
	Console io.Writer

	// PollInterval overrides how often the configuration file is checked
	// for changes.
	PollInterval time.Duration
}

// Run starts the application and blocks until SIGINT or SIGTERM. SIGHUP
// and configuration file changes trigger a live reload.
func Run(params RunParams) error {
	return RunContext(context.Background(), params)
}

// RunContext is Run with an external stop signal: the application shuts
// down cleanly when ctx ends.
func RunContext(ctx context.Context, params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	sessionsDir := params.SessionsDir
	if sessionsDir == "" {
		sessionsDir = resolvePath(dataDir, cfg.SessionsDir)
	}
	if sessionsDir == "" {
		sessionsDir = filepath.Join(dataDir, "sessions")
	}
	if err := ensureDirs(dataDir, sessionsDir); err != nil {
		return fmt.Errorf("creating data directories: %w", err)
	}

	console := params.Console
	if console == nil {
		console = os.Stderr
	}

	// Security foundation: everything logged passes through the redactor.
	credStore := security.NewCredentialStore()
	redactor := security.NewRedactor()
	logger, logCloser := newLogger(cfg.Logging, dataDir, console, params.LogLevel, redactor)
	defer func() { _ = logCloser.Close() }()

	auditLogger, auditCloser := newAuditLogger(*cfg, dataDir, redactor)
	defer func() { _ = auditCloser.Close() }()

	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
		LoginsPerMin: cfg.Security.RateLimits.LoginsPerMin,
		SendsPerMin:  cfg.Security.RateLimits.SendsPerMin,
	})

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing, params.Version)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	appCtx := core.NewAppContext(logger, dataDir, sessionsDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	// Register security services for cross-module discovery.
	appCtx.RegisterService(security.CredentialsService, credStore)
	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("security.audit", auditLogger)
	appCtx.RegisterService("security.ratelimiter", rateLimiter)

	// Register the config path so the gateway can serve and reload it.
	appCtx.RegisterService(gateway.ConfigPathService, cfgPath)

	application := core.NewApp(appCtx)

	// Registered before Start so the gateway can resolve it.
	handler := reload.NewHandler(application, appCtx)
	appCtx.RegisterService(gateway.ReloaderService, handler)

	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}
	if err := application.Start(); err != nil {
		return err
	}

	// Modules registered their secrets during Provision.
	redactor.SyncCredentials(credStore)

	logger.Info("tgmonitor started",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
		"data_dir", dataDir,
		"modules", ids,
	)

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher := reload.NewWatcher(reload.WatcherConfig{
		ConfigPath:   cfgPath,
		PollInterval: params.PollInterval,
	})
	watcher.Start(watchCtx)
	defer watcher.Stop()

	shutdown := func(reason string) error {
		logger.Info("shutting down", "reason", reason)
		application.Stop()
		logger.Info("shutdown complete")
		return nil
	}

	// --- main event loop ---
	for {
		select {
		case <-ctx.Done():
			return shutdown("context done")
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				return shutdown(sig.String())
			}
			logger.Info("SIGHUP received, reloading configuration")
			if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, evt.ConfigPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/tgmonitor/tgmonitor.yaml, then
// ~/.config/tgmonitor/tgmonitor.yaml, then ./tgmonitor.yaml.
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "tgmonitor", "tgmonitor.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "tgmonitor", "tgmonitor.yaml"))
	}

	candidates = append(candidates, "tgmonitor.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory:
// $XDG_DATA_HOME/tgmonitor, or ~/.local/share/tgmonitor.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "tgmonitor")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tgmonitor")
}
