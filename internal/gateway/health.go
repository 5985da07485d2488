package gateway

import (
	"net/http"

	"github.com/flemzord/tgmonitor/internal/identity"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"` // "ok" or "degraded"
	Identities int    `json:"identities"`
	Connected  int    `json:"connected"`
	Monitoring int    `json:"monitoring"`
	Failed     int    `json:"failed"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 503 when an identity that should be monitoring is in a failed state.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}

		for _, st := range g.engine.StatusAll() {
			if st.Login.State == identity.StateUnbound.String() {
				continue
			}
			resp.Identities++
			if st.Login.Connected {
				resp.Connected++
			}
			if st.MonitoringActive {
				resp.Monitoring++
			}
			if st.Login.State == identity.StateFailed.String() {
				resp.Failed++
				if st.Login.IsRunning {
					resp.Status = "degraded"
				}
			}
		}

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
