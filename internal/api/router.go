package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/zettelink/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// events, if non-nil, receives the events of embed runs started over HTTP.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler, events Events) chi.Router {
	h := NewHandler(svc, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/search", h.Search)
	r.Get("/links", h.StoredLinks)
	r.Post("/links", h.Links)
	r.Get("/related/*", h.Related)
	r.Post("/embed", h.Embed)
	r.Get("/cache", h.CacheInfo)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
