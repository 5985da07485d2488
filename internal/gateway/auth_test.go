package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/tgmonitor/internal/security"
	"github.com/flemzord/tgmonitor/internal/security/securitytest"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// httptestGet sends an anonymous GET to h.
func httptestGet(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	bearer := AuthConfig{BearerToken: "secret-token"}
	basic := AuthConfig{BasicUser: "admin", BasicPass: "pass123"}

	tests := []struct {
		name  string
		cfg   AuthConfig
		setup func(r *http.Request)
		want  int
	}{
		{"valid bearer", bearer, func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-token") }, http.StatusOK},
		{"invalid bearer", bearer, func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong-token") }, http.StatusUnauthorized},
		{"bearer without prefix", bearer, func(r *http.Request) { r.Header.Set("Authorization", "secret-token") }, http.StatusUnauthorized},
		{"valid basic", basic, func(r *http.Request) { r.SetBasicAuth("admin", "pass123") }, http.StatusOK},
		{"invalid basic", basic, func(r *http.Request) { r.SetBasicAuth("admin", "wrongpass") }, http.StatusUnauthorized},
		{"basic against bearer config", bearer, func(r *http.Request) { r.SetBasicAuth("admin", "pass123") }, http.StatusUnauthorized},
		{"missing header", bearer, func(*http.Request) {}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := authMiddleware(tt.cfg, nil)(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_AuditsFailures(t *testing.T) {
	t.Parallel()

	audit, events := securitytest.NewTestAuditLogger()
	handler := authMiddleware(AuthConfig{BearerToken: "secret-token"}, audit)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/identities/user_1/login", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set("Authorization", "Bearer nope")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	ok := httptest.NewRequest(http.MethodGet, "/status", nil)
	ok.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), ok)

	got := events()
	if len(got) != 1 {
		t.Fatalf("events = %+v, want one failure", got)
	}
	ev := got[0]
	if ev.Type != security.EventAuthFailure || ev.Remote != "192.0.2.7:5555" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Metadata["path"] != "/api/identities/user_1/login" || ev.Metadata["method"] != http.MethodPost {
		t.Errorf("metadata = %v", ev.Metadata)
	}
}

func TestAuthConfig_IsConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  AuthConfig
		want bool
	}{
		{AuthConfig{}, false},
		{AuthConfig{BearerToken: "t"}, true},
		{AuthConfig{BasicUser: "u"}, false},
		{AuthConfig{BasicUser: "u", BasicPass: "p"}, true},
	}
	for _, tt := range tests {
		if got := tt.cfg.IsConfigured(); got != tt.want {
			t.Errorf("%+v.IsConfigured() = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}
