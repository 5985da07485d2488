package mtproto

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

// Factory creates one Remote per identity.
type Factory struct {
	cfg    Config
	logger *slog.Logger
}

var _ bridge.Factory = (*Factory)(nil)

// NewFactory creates a Factory. cfg.SessionsDir must be set.
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// SessionPath returns the session file of identityID.
func (f *Factory) SessionPath(identityID string) (string, error) {
	if identityID == "" || strings.ContainsAny(identityID, `/\`) || identityID == ".." {
		return "", fmt.Errorf("mtproto: invalid identity id %q", identityID)
	}
	return filepath.Join(f.cfg.SessionsDir, identityID+".session"), nil
}

// New implements bridge.Factory.
func (f *Factory) New(identityID string) (bridge.Remote, error) {
	path, err := f.SessionPath(identityID)
	if err != nil {
		return nil, err
	}
	return newRemote(f.options(path), f.cfg, f.logger.With("identity", identityID)), nil
}

// Forget implements bridge.Factory.
func (f *Factory) Forget(identityID string) error {
	path, err := f.SessionPath(identityID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("mtproto: remove session: %w", err)
	}
	return nil
}

func (f *Factory) options(path string) telegram.Options {
	opts := telegram.Options{
		SessionStorage: &session.FileStorage{Path: path},
		Device: telegram.DeviceConfig{
			DeviceModel:   f.cfg.DeviceModel,
			SystemVersion: f.cfg.SystemVersion,
			AppVersion:    f.cfg.AppVersion,
		},
	}
	if f.cfg.TestDC {
		opts.DC = 2
		opts.DCList = dcs.Test()
	}
	return opts
}
