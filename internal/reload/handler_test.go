package reload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tgmonitor/internal/config"
	"github.com/flemzord/tgmonitor/internal/core"
)

// probeModule records what each Reload call could see.
type probeModule struct {
	mu      sync.Mutex
	reloads []probeReload
	err     error
}

type probeReload struct {
	configValue string
	service     string
}

func (m *probeModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "probe.reload", New: func() core.Module { return &probeModule{} }}
}

func (m *probeModule) Reload(ctx *core.AppContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rec probeReload
	if node, ok := ctx.ModuleConfig("probe.reload"); ok {
		var cfg struct {
			Value string `yaml:"value"`
		}
		_ = node.Decode(&cfg)
		rec.configValue = cfg.Value
	}
	rec.service, _ = core.Service[string](ctx, "probe.service")
	m.reloads = append(m.reloads, rec)
	return m.err
}

func (m *probeModule) calls() []probeReload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]probeReload(nil), m.reloads...)
}

func init() {
	core.RegisterModule(&probeModule{})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newProbeHandler(t *testing.T) (*Handler, *probeModule) {
	t.Helper()
	base := core.NewAppContext(testLogger(), t.TempDir(), t.TempDir())
	base.RegisterService("probe.service", "registered at startup")
	app := core.NewApp(base)
	probe := &probeModule{}
	app.AppendModule("probe.reload", probe)
	return NewHandler(app, base), probe
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tgmonitor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	return path
}

func TestHandler_HandleReload_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantMsg string
	}{
		{"missing file", func(*testing.T) string { return "/nonexistent/config.yaml" }, "loading config"},
		{"no modules", func(t *testing.T) string { return writeFile(t, "version: \"1\"\nmodules: {}\n") }, "validating config"},
		{"unknown module", func(t *testing.T) string {
			return writeFile(t, "version: \"1\"\nmodules:\n  fake.mod: {}\n")
		}, "unknown module"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, probe := newProbeHandler(t)
			err := h.HandleReload(context.Background(), tt.path(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("HandleReload() error = %v, want %q", err, tt.wantMsg)
			}
			if n := len(probe.calls()); n != 0 {
				t.Errorf("modules reloaded %d times on a bad config", n)
			}
		})
	}
}

func TestHandler_HandleReload_KeepsServices(t *testing.T) {
	t.Parallel()

	h, probe := newProbeHandler(t)
	path := writeFile(t, "version: \"1\"\nmodules:\n  probe.reload:\n    value: second\n")

	if err := h.HandleReload(context.Background(), path); err != nil {
		t.Fatalf("HandleReload: %v", err)
	}
	calls := probe.calls()
	if len(calls) != 1 {
		t.Fatalf("reloads = %d, want 1", len(calls))
	}
	if calls[0].configValue != "second" {
		t.Errorf("config value = %q, want %q", calls[0].configValue, "second")
	}
	if calls[0].service != "registered at startup" {
		t.Errorf("service = %q, startup services must survive a reload", calls[0].service)
	}
}

func TestHandler_HandleReload_ModuleError(t *testing.T) {
	t.Parallel()

	h, probe := newProbeHandler(t)
	probe.err = errors.New("bad value")
	path := writeFile(t, "version: \"1\"\nmodules:\n  probe.reload: {}\n")

	err := h.HandleReload(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "bad value") {
		t.Fatalf("HandleReload() error = %v", err)
	}
}

func TestHandler_ModuleChanges(t *testing.T) {
	t.Parallel()

	h, _ := newProbeHandler(t)
	cfg := &config.Config{Version: "1"}
	cfg.Modules = map[string]yaml.Node{"gateway.http": {}}

	added, removed := h.moduleChanges(cfg)
	if len(added) != 1 || added[0] != "gateway.http" {
		t.Errorf("added = %v", added)
	}
	if len(removed) != 1 || removed[0] != "probe.reload" {
		t.Errorf("removed = %v", removed)
	}
}

func TestHandler_HandleReloadFromConfig_CancelledContext(t *testing.T) {
	t.Parallel()

	h, probe := newProbeHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.HandleReloadFromConfig(ctx, &config.Config{Version: "1"}); err == nil {
		t.Error("expected error for cancelled context")
	}
	if n := len(probe.calls()); n != 0 {
		t.Errorf("reloads = %d, want 0", n)
	}
}
