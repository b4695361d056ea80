package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-location-simulator/internal/middleware"
)

// NewRouter mounts the control API. Every route except login and health
// goes through Authenticate; state-changing routes also need a control role.
// stream may be nil to disable the websocket feed.
func NewRouter(authHandler *AuthHandler, sims *SimulationHandler, stream http.Handler, mw *middleware.AuthMiddleware) http.Handler {
	mux := http.NewServeMux()
	control := func(h http.HandlerFunc) http.Handler {
		return mw.RequireControl(h)
	}

	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.HandleFunc("GET /api/simulations", sims.List)
	mux.HandleFunc("GET /api/simulations/{id}", sims.Get)
	mux.HandleFunc("GET /api/simulations/{id}/history", sims.History)
	mux.Handle("POST /api/simulations/stop", control(sims.StopAll))
	mux.Handle("POST /api/simulations/{id}/start", control(sims.Start))
	mux.Handle("POST /api/simulations/{id}/stop", control(sims.Stop))
	mux.Handle("POST /api/simulations/{id}/reset", control(sims.Reset))
	mux.Handle("POST /api/simulations/{id}/speed", control(sims.Speed))
	mux.Handle("DELETE /api/simulations/cache", control(sims.ClearCache))
	mux.Handle("DELETE /api/simulations/cache/{id}", control(sims.ClearCache))

	if stream != nil {
		mux.Handle("GET /api/stream", stream)
	}

	return mw.Authenticate(mux)
}
