package api

import (
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"

	"github.com/starford/inkbuild/internal/buildservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *buildservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents and graph.
	r.Get("/documents", h.ListDocuments)
	r.Get("/graph", h.Graph)
	r.Get("/outline/*", h.Outline)
	r.Get("/dependents/*", h.Dependents)

	// Diagnostics.
	r.Get("/diagnostics", h.DiagnosticSummary)
	r.Get("/diagnostics/*", h.Diagnostics)

	// Build.
	r.Post("/compile/*", h.Compile)
	r.With(gziphandler.GzipHandler).Get("/artifacts/*", h.Artifact)
	r.Get("/builds", h.ListBuilds)
	r.Get("/builds/*", h.GetBuild)

	// Search.
	r.Get("/symbols", h.Symbols)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
