package gateway

import (
	"net/http"

	"github.com/flemzord/tgmonitor/internal/store"
)

// pushSubscribeRequest mirrors the browser PushSubscription JSON plus the
// identity whose alerts it wants.
type pushSubscribeRequest struct {
	Identity string `json:"identity"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (g *Gateway) handlePushKey() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		key := g.engine.PushPublicKey()
		if key == "" {
			writeJSON(w, http.StatusNotFound, apiResponse{Message: "push notifications are disabled"})
			return
		}
		writeOK(w, apiResponse{PublicKey: key})
	}
}

func (g *Gateway) handlePushSubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.engine.PushPublicKey() == "" {
			writeJSON(w, http.StatusNotFound, apiResponse{Message: "push notifications are disabled"})
			return
		}
		var req pushSubscribeRequest
		if !decode(w, r, &req) {
			return
		}
		err := g.engine.AddPushSubscription(r.Context(), store.PushSubscription{
			IdentityID: req.Identity,
			Endpoint:   req.Endpoint,
			P256dh:     req.Keys.P256dh,
			Auth:       req.Keys.Auth,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Message: "subscribed"})
	}
}

func (g *Gateway) handlePushUnsubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Endpoint string `json:"endpoint"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := g.engine.RemovePushSubscription(r.Context(), req.Endpoint); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, apiResponse{Message: "unsubscribed"})
	}
}
