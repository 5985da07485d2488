package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flemzord/tgmonitor/internal/config"
	"github.com/flemzord/tgmonitor/internal/security"
)

// parseLevel maps a configured level name to a slog level. Unknown names
// are rejected by config.Validate; they fall back to info here.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// resolvePath makes a relative path relative to dataDir.
func resolvePath(dataDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

// newLogger builds the root logger: console output plus an optional rotated
// file, behind the redacting handler. level overrides the configured level
// when non-nil. The returned closer releases the log file.
func newLogger(cfg config.LoggingConfig, dataDir string, console io.Writer, level *slog.Level, redactor *security.Redactor) (*slog.Logger, io.Closer) {
	lvl := parseLevel(cfg.Level)
	if level != nil {
		lvl = *level
	}

	out := console
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   resolvePath(dataDir, cfg.File),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(console, rotated)
		closer = rotated
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(security.NewRedactingHandler(handler, redactor)), closer
}

// newAuditLogger writes account-affecting events to the configured audit
// file, rotated like the main log.
func newAuditLogger(cfg config.Config, dataDir string, redactor *security.Redactor) (*security.AuditLogger, io.Closer) {
	acfg := security.AuditLoggerConfig{Redactor: redactor}
	var closer io.Closer = nopCloser{}
	if path := resolvePath(dataDir, cfg.Security.AuditFile); path != "" {
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
		acfg.Writer = rotated
		closer = rotated
	}
	return security.NewAuditLogger(acfg), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ensureDirs creates the data and sessions directories.
func ensureDirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
