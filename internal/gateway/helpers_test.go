package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tgmonitor/internal/bridge/bridgetest"
	"github.com/flemzord/tgmonitor/internal/broadcast"
	"github.com/flemzord/tgmonitor/internal/core"
	"github.com/flemzord/tgmonitor/internal/engine"
	"github.com/flemzord/tgmonitor/internal/store"
)

const testToken = "test-token"

func mustYAMLNode(t *testing.T, s string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(doc.Content) == 0 {
		t.Fatal("empty YAML document")
	}
	return doc.Content[0]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

// doGet makes a GET request with context.
func doGet(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// unauthorized builds fake sessions that need the code flow.
func unauthorized(string) *bridgetest.Remote {
	r := bridgetest.NewRemote()
	r.Authorized = false
	return r
}

type testEngine struct {
	*engine.Engine
	factory *bridgetest.Factory
	store   *store.Memory
}

// newTestEngine starts an engine over fake sessions and a memory store.
func newTestEngine(t *testing.T, remote func(string) *bridgetest.Remote, mutate ...func(*engine.Config)) *testEngine {
	t.Helper()
	factory := bridgetest.NewFactory()
	factory.NewRemote = remote
	st := store.NewMemory()

	cfg := engine.Config{Broadcast: broadcast.Config{Pace: -1}}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := engine.New(cfg, engine.Deps{Factory: factory, Store: st, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return &testEngine{Engine: e, factory: factory, store: st}
}

func newTestGateway(t *testing.T, addr string, auth AuthConfig, eng *engine.Engine) *Gateway {
	t.Helper()
	logger := discardLogger()
	appCtx := core.NewAppContext(logger, t.TempDir(), t.TempDir())
	if eng != nil {
		appCtx.RegisterService(engine.ServiceName, eng)
	}

	g := &Gateway{}
	g.config = Config{
		Bind:            addr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		MaxBodyBytes:    1 << 20,
		Auth:            auth,
	}
	g.appCtx = appCtx
	g.logger = logger
	g.engine = eng
	g.startedAt = time.Now()
	return g
}

// apiGateway returns the router of an authenticated gateway over eng.
func apiGateway(t *testing.T, eng *engine.Engine) (*Gateway, http.Handler) {
	t.Helper()
	g := newTestGateway(t, "127.0.0.1:0", AuthConfig{BearerToken: testToken}, eng)
	return g, g.buildRouter()
}

// call performs an authenticated request against h. body is sent as JSON
// when non-empty.
func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
