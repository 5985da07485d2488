package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/tgmonitor/internal/engine"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime     int64                   `json:"uptime_seconds"`
	Identities []engine.IdentityStatus `json:"identities"`
	Listeners  map[string]int          `json:"listeners"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		all := g.engine.StatusAll()
		resp := StatusResponse{
			Uptime:     int64(time.Since(g.startedAt).Truncate(time.Second).Seconds()),
			Identities: all,
			Listeners:  make(map[string]int, len(all)),
		}
		hub := g.engine.Hub()
		for _, st := range all {
			if n := hub.Subscribers(st.ID); n > 0 {
				resp.Listeners[st.ID] = n
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
