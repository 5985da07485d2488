package core

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// fakeStoreModule stands in for a store backend: it decodes a path,
// requires one, and records which lifecycle steps ran.
type fakeStoreModule struct {
	id      ModuleID
	failOn  string
	steps   *[]string
	path    string
	dataDir string
}

func (m *fakeStoreModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{
		ID: m.id,
		New: func() Module {
			return &fakeStoreModule{id: m.id, failOn: m.failOn, steps: m.steps}
		},
	}
}

func (m *fakeStoreModule) Configure(node *yaml.Node) error {
	*m.steps = append(*m.steps, "configure")
	var cfg struct {
		Path string `yaml:"path"`
	}
	if err := node.Decode(&cfg); err != nil {
		return err
	}
	m.path = cfg.Path
	return nil
}

func (m *fakeStoreModule) Provision(ctx *AppContext) error {
	*m.steps = append(*m.steps, "provision")
	if m.failOn == "provision" {
		return errors.New("disk full")
	}
	m.dataDir = ctx.DataDir
	if m.path == "" {
		m.path = ctx.DataDir + "/identities.db"
	}
	ctx.RegisterService("store", m)
	return nil
}

func (m *fakeStoreModule) Validate() error {
	*m.steps = append(*m.steps, "validate")
	if m.failOn == "validate" {
		return errors.New("path must be absolute")
	}
	return nil
}

func yamlNode(t *testing.T, src string) yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatal(err)
	}
	return *doc.Content[0]
}

func TestAppContext_LoadModule(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		failOn    string
		config    string
		wantSteps []string
		wantPath  string
		wantErr   string
	}{
		{
			name:      "configured",
			config:    "path: /var/lib/tgmonitor/ids.db",
			wantSteps: []string{"configure", "provision", "validate"},
			wantPath:  "/var/lib/tgmonitor/ids.db",
		},
		{
			name:      "without config block",
			wantSteps: []string{"provision", "validate"},
			wantPath:  "/data/identities.db",
		},
		{
			name:      "bad config",
			config:    "path: [1, 2]",
			wantSteps: []string{"configure"},
			wantErr:   "configuring module store.fake",
		},
		{
			name:      "provision failure",
			failOn:    "provision",
			wantSteps: []string{"provision"},
			wantErr:   "provisioning module store.fake: disk full",
		},
		{
			name:      "validate failure",
			failOn:    "validate",
			wantSteps: []string{"provision", "validate"},
			wantErr:   "validating module store.fake",
		},
		{
			name:    "unknown module",
			id:      "store.missing",
			wantErr: "unknown module: store.missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(resetRegistry)

			var steps []string
			RegisterModule(&fakeStoreModule{id: "store.fake", failOn: tt.failOn, steps: &steps})

			ctx := NewAppContext(nil, "/data", "/sessions")
			if tt.config != "" {
				ctx = ctx.WithModuleConfigs(map[string]yaml.Node{"store.fake": yamlNode(t, tt.config)})
			}
			id := tt.id
			if id == "" {
				id = "store.fake"
			}

			mod, err := ctx.LoadModule(id)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("LoadModule = %v, want %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("LoadModule: %v", err)
			}
			if strings.Join(steps, ",") != strings.Join(tt.wantSteps, ",") {
				t.Errorf("steps = %v, want %v", steps, tt.wantSteps)
			}
			if tt.wantPath == "" {
				return
			}
			if got := mod.(*fakeStoreModule).path; got != tt.wantPath {
				t.Errorf("path = %q, want %q", got, tt.wantPath)
			}
			if _, ok := Service[*fakeStoreModule](ctx, "store"); !ok {
				t.Error("store service not visible from the parent context")
			}
		})
	}
}

func TestAppContext_ForModule(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := NewAppContext(logger, "/data", "/sessions").
		WithModuleConfigs(map[string]yaml.Node{"session.mtproto": yamlNode(t, "app_id: 1")})
	child := ctx.ForModule("session.mtproto")

	child.Logger.Info("connected")
	if !strings.Contains(buf.String(), "module=session.mtproto") {
		t.Errorf("log line = %q, want module attribute", buf.String())
	}
	if child.SessionsDir != "/sessions" || child.DataDir != "/data" {
		t.Errorf("dirs = %q, %q", child.DataDir, child.SessionsDir)
	}
	if _, ok := child.ModuleConfig("session.mtproto"); !ok {
		t.Error("module config not propagated")
	}

	ctx.RegisterService("notify.hub", 42)
	if got, ok := Service[int](child, "notify.hub"); !ok || got != 42 {
		t.Fatalf("Service = %v, %v; want 42, true", got, ok)
	}
	if _, ok := Service[string](child, "notify.hub"); ok {
		t.Error("Service with the wrong type should report false")
	}
	if _, ok := child.GetService("missing"); ok {
		t.Error("GetService(missing) should report false")
	}
}
