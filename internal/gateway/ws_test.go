package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/notify"
)

type wsFrame struct {
	Type     notify.Type     `json:"type"`
	Identity string          `json:"identity"`
	Data     json.RawMessage `json:"data"`
}

func dialWS(ctx context.Context, t *testing.T, srv *httptest.Server, id, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + id
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func TestWebsocket_SnapshotThenNotifications(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil)
	_, h := apiGateway(t, eng.Engine)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := dialWS(ctx, t, srv, "user_1", testToken)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	first := readFrame(ctx, t, conn)
	if first.Type != notify.TypeLoginStatus || first.Identity != "user_1" {
		t.Fatalf("first frame = %+v", first)
	}
	var login struct {
		LoggedIn bool   `json:"logged_in"`
		State    string `json:"state"`
	}
	if err := json.Unmarshal(first.Data, &login); err != nil {
		t.Fatalf("decode login status: %v", err)
	}
	if login.LoggedIn || login.State != identity.StateUnbound.String() {
		t.Errorf("login snapshot = %+v", login)
	}

	if _, err := eng.SaveSettings(ctx, "user_1", identity.Settings{Keywords: []string{"sale"}}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	next := readFrame(ctx, t, conn)
	if next.Type != notify.TypeLogUpdate || next.Identity != "user_1" {
		t.Errorf("next frame = %+v", next)
	}
}

func TestWebsocket_Rejects(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, nil)
	_, h := apiGateway(t, eng.Engine)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name, id, token string
		want            int
	}{
		{"no credentials", "user_1", "", http.StatusUnauthorized},
		{"unknown identity", "ghost", testToken, http.StatusNotFound},
	}
	for _, tt := range tests {
		conn, resp, err := dialWS(ctx, t, srv, tt.id, tt.token)
		if err == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			t.Errorf("%s: dial succeeded", tt.name)
			continue
		}
		if resp == nil || resp.StatusCode != tt.want {
			t.Errorf("%s: response = %v, want status %d", tt.name, resp, tt.want)
		}
	}
}
