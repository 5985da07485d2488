package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flemzord/tgmonitor/internal/metrics"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Everything else needs credentials and is not mounted without them.
	if !g.config.Auth.IsConfigured() {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(g.config.Auth, g.audit))
		r.Use(middleware.RequestSize(g.config.MaxBodyBytes))

		r.Get("/status", g.handleStatus())
		r.Get("/ws/{id}", g.handleWebsocket())

		r.Route("/api", func(r chi.Router) {
			r.Get("/identities", g.handleListIdentities())
			r.Post("/identities", g.handleCreateIdentity())
			r.Route("/identities/{id}", func(r chi.Router) {
				r.Get("/", g.handleGetIdentity())
				r.Post("/login", g.handleLogin())
				r.Post("/code", g.handleCode())
				r.Post("/password", g.handlePassword())
				r.Get("/settings", g.handleGetSettings())
				r.Post("/settings", g.handleSaveSettings())
				r.Post("/monitoring/start", g.handleStartMonitoring())
				r.Post("/monitoring/stop", g.handleStopMonitoring())
				r.Post("/send", g.handleSend())
				r.Post("/join", g.handleJoin())
				r.Post("/logout", g.handleLogout())
				r.Post("/reset", g.handleReset())
			})

			r.Get("/push/key", g.handlePushKey())
			r.Post("/push/subscribe", g.handlePushSubscribe())
			r.Post("/push/unsubscribe", g.handlePushUnsubscribe())

			r.Get("/modules", g.handleGetAllModules())
			r.Get("/config", g.handleGetConfig())
			r.Post("/config/reload", g.handleReloadConfig())
		})
	})

	return r
}
