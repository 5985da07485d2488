package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/tgmonitor/internal/auth"
	"github.com/flemzord/tgmonitor/internal/bridge"
	"github.com/flemzord/tgmonitor/internal/broadcast"
	"github.com/flemzord/tgmonitor/internal/engine"
	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/security"
	"github.com/flemzord/tgmonitor/internal/supervisor"
)

// apiResponse is the envelope of every /api action.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	ID            string             `json:"id,omitempty"`
	Status        auth.Status        `json:"status,omitempty"`
	Wait          int                `json:"wait_seconds,omitempty"`
	Settings      *identity.Settings `json:"settings,omitempty"`
	Report        *broadcast.Report  `json:"report,omitempty"`
	AlreadyJoined bool               `json:"already_joined,omitempty"`
	PublicKey     string             `json:"public_key,omitempty"`
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, resp apiResponse) {
	resp.Success = true
	writeJSON(w, http.StatusOK, resp)
}

// writeError reports err with the status code its kind maps to.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), apiResponse{Message: err.Error()})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func statusFor(err error) int {
	if _, ok := bridge.AsRateLimit(err); ok {
		return http.StatusTooManyRequests
	}
	switch {
	case errors.Is(err, engine.ErrUnknownIdentity), errors.Is(err, auth.ErrUnknownIdentity):
		return http.StatusNotFound
	case errors.Is(err, security.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, supervisor.ErrNotAuthenticated),
		errors.Is(err, identity.ErrNotFound),
		errors.Is(err, broadcast.ErrNotConnected),
		errors.Is(err, auth.ErrNoCodeRequested),
		errors.Is(err, auth.ErrNoPasswordRequired),
		errors.Is(err, bridge.ErrNotRunning),
		errors.Is(err, bridge.ErrNotAuthorized):
		return http.StatusConflict
	case errors.Is(err, identity.ErrInvalidSettings),
		errors.Is(err, broadcast.ErrEmpty),
		errors.Is(err, broadcast.ErrNoDestinations),
		errors.Is(err, broadcast.ErrInviteOnly),
		errors.Is(err, engine.ErrInvalidSubscription),
		errors.Is(err, auth.ErrPhoneRequired),
		errors.Is(err, auth.ErrCodeRequired),
		errors.Is(err, bridge.ErrCodeInvalid),
		errors.Is(err, bridge.ErrCodeExpired),
		errors.Is(err, bridge.ErrPasswordInvalid),
		errors.Is(err, bridge.ErrInviteInvalid),
		errors.Is(err, bridge.ErrInviteExpired):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrOperationTimeout), errors.Is(err, bridge.ErrInitTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
