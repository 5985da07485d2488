package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/tgmonitor/internal/auth"
	"github.com/flemzord/tgmonitor/internal/broadcast"
	"github.com/flemzord/tgmonitor/internal/identity"
)

func (g *Gateway) handleListIdentities() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, g.engine.StatusAll())
	}
}

// handleCreateIdentity allocates an identity outside the configured slots.
func (g *Gateway) handleCreateIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, apiResponse{ID: g.engine.NewIdentity()})
	}
}

func (g *Gateway) handleGetIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := g.engine.Status(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// writeLogin reports one login step. A failed step without a more
// specific status is a bad request: the operator has to act.
func writeLogin(w http.ResponseWriter, res auth.Result, err error) {
	resp := apiResponse{
		Success: res.Status != auth.StatusError && err == nil,
		Message: res.Message,
		Status:  res.Status,
		Wait:    res.Wait,
	}
	if resp.Success {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if resp.Message == "" && err != nil {
		resp.Message = err.Error()
	}
	code := http.StatusBadRequest
	if err != nil {
		if c := statusFor(err); c != http.StatusInternalServerError {
			code = c
		}
	}
	writeJSON(w, code, resp)
}

func (g *Gateway) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone string `json:"phone"`
		}
		if !decode(w, r, &req) {
			return
		}
		res, err := g.engine.BeginLogin(r.Context(), chi.URLParam(r, "id"), req.Phone)
		writeLogin(w, res, err)
	}
}

func (g *Gateway) handleCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if !decode(w, r, &req) {
			return
		}
		res, err := g.engine.SubmitCode(r.Context(), chi.URLParam(r, "id"), req.Code)
		writeLogin(w, res, err)
	}
}

func (g *Gateway) handlePassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Password string `json:"password"`
		}
		if !decode(w, r, &req) {
			return
		}
		res, err := g.engine.SubmitPassword(r.Context(), chi.URLParam(r, "id"), req.Password)
		writeLogin(w, res, err)
	}
}

func (g *Gateway) handleGetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := g.engine.Status(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Settings: &st.Settings})
	}
}

func (g *Gateway) handleSaveSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s identity.Settings
		if !decode(w, r, &s) {
			return
		}
		saved, err := g.engine.SaveSettings(r.Context(), chi.URLParam(r, "id"), s)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Message: "settings saved", Settings: &saved})
	}
}

func (g *Gateway) handleStartMonitoring() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.engine.StartMonitoring(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Message: "monitoring started"})
	}
}

func (g *Gateway) handleStopMonitoring() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.engine.StopMonitoring(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Message: "monitoring stopped"})
	}
}

// handleSend broadcasts now. Per-destination failures still answer 200:
// the report says which destinations failed.
func (g *Gateway) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcast.Request
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		report, err := g.engine.SendNow(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{
			Success: report.Sent > 0,
			Message: sendSummary(report),
			Report:  &report,
		})
	}
}

func sendSummary(r broadcast.Report) string {
	switch {
	case r.Failed == 0:
		return "sent to every destination"
	case r.Sent == 0:
		return "sending failed for every destination"
	default:
		return "sent with some failures"
	}
}

func (g *Gateway) handleJoin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Link string `json:"link"`
		}
		if !decode(w, r, &req) {
			return
		}
		res, err := g.engine.Join(r.Context(), chi.URLParam(r, "id"), req.Link)
		if err != nil {
			writeJSON(w, statusFor(err), apiResponse{Message: broadcast.JoinMessage(err)})
			return
		}
		writeOK(w, apiResponse{Message: res.Message, AlreadyJoined: res.AlreadyJoined})
	}
}

func (g *Gateway) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.engine.Logout(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Message: "logged out"})
	}
}

func (g *Gateway) handleReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.engine.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Message: "identity reset"})
	}
}
