package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeGateway scripts replies per login step and records the bodies.
type fakeGateway struct {
	mu      sync.Mutex
	replies map[string]loginReply
	calls   []string
	bodies  []map[string]string
	token   string
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.token != "" && r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	step := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, r.URL.Path)
	f.bodies = append(f.bodies, body)
	reply, ok := f.replies[step]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(loginReply{Message: "unexpected step " + step})
		return
	}
	_ = json.NewEncoder(w).Encode(reply)
}

type scriptedPrompter struct {
	phone, code, password string
	err                   error
	asked                 []string
}

func (p *scriptedPrompter) Phone() (string, error) {
	p.asked = append(p.asked, "phone")
	return p.phone, p.err
}

func (p *scriptedPrompter) Code() (string, error) {
	p.asked = append(p.asked, "code")
	return p.code, p.err
}

func (p *scriptedPrompter) Password() (string, error) {
	p.asked = append(p.asked, "password")
	return p.password, p.err
}

func newLoginClient(t *testing.T, gw *fakeGateway) *loginClient {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &loginClient{server: srv.URL + "/", token: "secret", http: srv.Client()}
}

func TestRunLogin_FullFlow(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{token: "secret", replies: map[string]loginReply{
		"login":    {Success: true, Status: "code_required", Message: "Code sent"},
		"code":     {Status: "password_required"},
		"password": {Success: true, Status: "success"},
	}}
	ask := &scriptedPrompter{phone: "+33612345678", code: "12345", password: "pw"}
	var out bytes.Buffer

	if err := runLogin(context.Background(), &out, newLoginClient(t, gw), ask, "user_1", ""); err != nil {
		t.Fatalf("runLogin() = %v", err)
	}

	wantCalls := []string{
		"/api/identities/user_1/login",
		"/api/identities/user_1/code",
		"/api/identities/user_1/password",
	}
	if strings.Join(gw.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("calls = %v, want %v", gw.calls, wantCalls)
	}
	if gw.bodies[0]["phone"] != "+33612345678" || gw.bodies[1]["code"] != "12345" || gw.bodies[2]["password"] != "pw" {
		t.Errorf("bodies = %v", gw.bodies)
	}
	if strings.Join(ask.asked, ",") != "phone,code,password" {
		t.Errorf("asked = %v", ask.asked)
	}
	if !strings.Contains(out.String(), "Code sent") || !strings.Contains(out.String(), "Logged in: user_1") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunLogin_PhoneFlagSkipsPrompt(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{token: "secret", replies: map[string]loginReply{
		"login": {Success: true, Status: "success"},
	}}
	ask := &scriptedPrompter{}
	if err := runLogin(context.Background(), &bytes.Buffer{}, newLoginClient(t, gw), ask, "user_2", "+100"); err != nil {
		t.Fatalf("runLogin() = %v", err)
	}
	if len(ask.asked) != 0 {
		t.Errorf("asked = %v, want no prompts", ask.asked)
	}
}

func TestRunLogin_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		replies map[string]loginReply
		token   string
		prompt  error
		wantErr string
	}{
		{
			name:    "gateway error message",
			replies: map[string]loginReply{"login": {Status: "error", Message: "Invalid phone number"}},
			wantErr: "Invalid phone number",
		},
		{
			name:    "flood wait",
			replies: map[string]loginReply{"login": {Status: "error", Wait: 30}},
			wantErr: "30s",
		},
		{
			name:    "bad token",
			token:   "other",
			wantErr: "rejected the token",
		},
		{
			name:    "prompt aborted",
			replies: map[string]loginReply{"login": {Status: "code_required"}},
			prompt:  errors.New("user aborted"),
			wantErr: "user aborted",
		},
		{
			name:    "never completes",
			replies: map[string]loginReply{"login": {Status: "code_required"}, "code": {Status: "code_required"}},
			wantErr: "did not complete",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gw := &fakeGateway{token: "secret", replies: tt.replies}
			client := newLoginClient(t, gw)
			if tt.token != "" {
				client.token = tt.token
			}
			ask := &scriptedPrompter{code: "1", err: tt.prompt}
			err := runLogin(context.Background(), &bytes.Buffer{}, client, ask, "user_1", "+100")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("runLogin() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
