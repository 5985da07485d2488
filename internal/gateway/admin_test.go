package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/flemzord/tgmonitor/internal/core"
	"github.com/flemzord/tgmonitor/internal/security"
)

type fakeReloader struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeReloader) HandleReload(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return f.err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tgmonitor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAdmin_Modules(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil)
	_, h := apiGateway(t, eng.Engine)

	rr := call(t, h, http.MethodGet, "/api/modules", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	mods := decodeBody[[]moduleJSON](t, rr)
	var found bool
	for _, m := range mods {
		if m.ID == "gateway.http" {
			found = true
			if m.Namespace != "gateway" || m.Name != "http" {
				t.Errorf("gateway module = %+v", m)
			}
		}
	}
	if !found || len(mods) != len(core.GetModules()) {
		t.Errorf("modules = %+v", mods)
	}
}

func TestAdmin_ConfigIsRedacted(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil)
	g, _ := apiGateway(t, eng.Engine)
	g.configPath = writeConfig(t, `
version: "1"
modules:
  session.mtproto:
    app_id: 12345
    app_hash: "0123456789abcdef"
  gateway.http:
    bind: "127.0.0.1:8080"
    auth:
      bearer_token: "super-secret"
`)
	h := g.buildRouter()

	rr := call(t, h, http.MethodGet, "/api/config", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	cfg := decodeBody[map[string]any](t, rr)
	modules, _ := cfg["modules"].(map[string]any)
	session, _ := modules["session.mtproto"].(map[string]any)
	if session["app_hash"] != security.RedactPlaceholder {
		t.Errorf("app_hash = %v, want redacted", session["app_hash"])
	}
	if session["app_id"] != float64(12345) {
		t.Errorf("app_id = %v, want kept", session["app_id"])
	}
	gw, _ := modules["gateway.http"].(map[string]any)
	authCfg, _ := gw["auth"].(map[string]any)
	if authCfg["bearer_token"] != security.RedactPlaceholder {
		t.Errorf("bearer_token = %v, want redacted", authCfg["bearer_token"])
	}
}

func TestAdmin_ConfigWithoutPath(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil)
	_, h := apiGateway(t, eng.Engine)

	if rr := call(t, h, http.MethodGet, "/api/config", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	if rr := call(t, h, http.MethodPost, "/api/config/reload", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("reload status = %d, want 503", rr.Code)
	}
}

func TestAdmin_Reload(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil)
	g, _ := apiGateway(t, eng.Engine)
	reloader := &fakeReloader{}
	g.reloader = reloader
	g.configPath = "/etc/tgmonitor.yaml"
	h := g.buildRouter()

	rr := call(t, h, http.MethodPost, "/api/config/reload", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if len(reloader.paths) != 1 || reloader.paths[0] != "/etc/tgmonitor.yaml" {
		t.Errorf("reloaded paths = %v", reloader.paths)
	}

	reloader.err = errors.New("config: invalid")
	rr = call(t, h, http.MethodPost, "/api/config/reload", "")
	if res := decodeBody[apiResponse](t, rr); rr.Code != http.StatusBadRequest || res.Message != "config: invalid" {
		t.Errorf("failed reload = %d %+v", rr.Code, res)
	}
}

func TestRedactSecrets(t *testing.T) {
	t.Parallel()

	m := map[string]any{
		"password":    "hunter2",
		"empty_token": "",
		"name":        "tgmonitor",
		"nested": map[string]any{
			"vapid_private_key": "k",
			"port":              8080,
		},
		"list": []any{
			map[string]any{"client_secret": "s", "id": "a"},
			"plain",
		},
	}
	redactSecrets(m)

	if m["password"] != security.RedactPlaceholder {
		t.Errorf("password = %v", m["password"])
	}
	if m["empty_token"] != "" {
		t.Errorf("empty secrets stay empty, got %v", m["empty_token"])
	}
	if m["name"] != "tgmonitor" {
		t.Errorf("name = %v", m["name"])
	}
	nested := m["nested"].(map[string]any)
	if nested["vapid_private_key"] != security.RedactPlaceholder || nested["port"] != 8080 {
		t.Errorf("nested = %v", nested)
	}
	item := m["list"].([]any)[0].(map[string]any)
	if item["client_secret"] != security.RedactPlaceholder || item["id"] != "a" {
		t.Errorf("list item = %v", item)
	}
}
