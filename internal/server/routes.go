package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/podgraph/podgraph-go/internal/api"
)

// setupRoutes creates the chi router. Three endpoints stay public: health,
// the invite landing lookup, and the graph status fact; everything else
// requires a resolved identity.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// RequestID must come first so GetReqID works in loggingMiddleware.
	// Recoverer sits inside the logging wrapper so panics are logged with
	// the status the client actually saw.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.resolveIdentity)

	// Public endpoints.
	r.Get("/healthz", api.HealthHandler)
	r.With(s.corsMiddleware).Get("/invites/{code}", s.invitesHandler.HandleGet)
	r.With(s.corsMiddleware).Options("/invites/{code}", s.invitesHandler.HandleGet)
	r.Get("/connections/status/{did}", s.connectionsHandler.HandleStatus)

	// Session-gated endpoints. Registered flat so the public GET on
	// /invites/{code} can coexist with the authed methods on the same path.
	r.Group(func(r chi.Router) {
		r.Use(requireIdentity)

		r.Post("/invites", s.invitesHandler.HandleCreate)
		r.Get("/invites", s.invitesHandler.HandleList)
		r.Delete("/invites/{code}", s.invitesHandler.HandleRevoke)
		r.Post("/invites/{code}/accept", s.invitesHandler.HandleAccept)

		r.Post("/trust-invites", s.trustHandler.HandleCreate)
		r.Get("/trust-invites", s.trustHandler.HandleList)
		r.Post("/trust-invites/{id}/accept", s.trustHandler.HandleAccept)
		r.Delete("/trust-invites/{id}", s.trustHandler.HandleRevoke)

		r.Delete("/connections/{podId}", s.connectionsHandler.HandleLeave)
	})

	return r
}
