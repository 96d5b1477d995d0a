package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouteRegistrar lets transport handlers attach their own routes.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// NewRouter assembles the full HTTP surface: public auth endpoints, the
// authenticated API, and the realtime entrypoint (which carries its own
// token check because browser WebSocket clients cannot set headers).
func NewRouter(h *Handler, realtime RouteRegistrar) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(Authenticated)

			r.Get("/rooms", h.handleListRooms)
			r.Post("/rooms/direct", h.handleCreateDirectRoom)
			r.Post("/rooms/group", h.handleCreateGroupRoom)
			r.Delete("/rooms/{roomID}", h.handleDeleteRoom)

			r.Get("/rooms/{roomID}/messages", h.handleHistory)
			r.Post("/rooms/{roomID}/messages", h.handlePostMessage)
			r.Get("/rooms/{roomID}/messages/search", h.handleSearch)

			r.Post("/rooms/{roomID}/messages/{messageID}/reactions", h.handleAddReaction)
			r.Delete("/rooms/{roomID}/messages/{messageID}/reactions", h.handleRemoveReaction)

			r.Get("/debug/stats", h.handleStats)
		})
	})

	realtime.RegisterRoutes(r)

	return r
}
