package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/flemzord/tgmonitor/internal/notify"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWebsocket streams the notifications of one identity. The first
// frame is a login_status snapshot so a fresh page can render at once.
// Clients that fall behind lose notifications rather than stall the hub.
func (g *Gateway) handleWebsocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, err := g.engine.Status(id)
		if err != nil {
			writeError(w, err)
			return
		}

		// The connection outlives the server write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.config.AllowedOrigins,
		})
		if err != nil {
			g.logger.Warn("websocket accept failed", "identity", id, "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		hub := g.engine.Hub()
		sub := hub.Subscribe(id)
		defer hub.Unsubscribe(sub)

		// Nothing is read from clients; CloseRead handles control frames
		// and cancels ctx when the peer goes away.
		ctx := conn.CloseRead(r.Context())
		g.logger.Debug("websocket connected", "identity", id, "remote", r.RemoteAddr)

		if err := writeNotification(ctx, conn, notify.New(id, notify.TypeLoginStatus, st.Login)); err != nil {
			return
		}

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				if d := sub.Dropped(); d > 0 {
					g.logger.Debug("websocket subscriber dropped notifications", "identity", id, "dropped", d)
				}
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			case n, ok := <-sub.C():
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if err := writeNotification(ctx, conn, n); err != nil {
					return
				}
			case <-ping.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}

func writeNotification(ctx context.Context, conn *websocket.Conn, n notify.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
