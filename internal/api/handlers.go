package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/buildservice"
	"github.com/starford/inkbuild/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *buildservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *buildservice.Service) *Handler {
	return &Handler{svc: svc}
}

// documentPath extracts the workspace-relative path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. chapters%2Fone.ink).
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// document resolves the wildcard into a document id, writing a 400 on failure.
func (h *Handler) document(w http.ResponseWriter, r *http.Request) (models.DocumentID, bool) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return "", false
	}
	id, err := h.svc.DocumentID(path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("path must stay inside the workspace"))
		return "", false
	}
	return id, true
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, op string, id models.DocumentID, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("path", id.String()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List registered documents
//	@Tags			documents
//	@Produce		json
//	@Param			kind	query		string	false	"Filter by kind"	Enums(script, binding)
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	kind := models.DocumentKind(r.URL.Query().Get("kind"))
	items := h.svc.Documents(r.Context())
	if kind != "" {
		filtered := items[:0]
		for _, it := range items {
			if it.Kind == kind {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: len(items)})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the dependency graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	nodes, edges := h.svc.Graph(r.Context())
	writeJSON(w, http.StatusOK, GraphResponse{Nodes: nodes, Edges: edges})
}

// Outline handles GET /api/outline/*.
//
//	@Summary		Get the outline of a script
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Workspace-relative path"
//	@Success		200		{object}	outline.Outline
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/outline/{path} [get]
func (h *Handler) Outline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.document(w, r)
	if !ok {
		return
	}
	o, err := h.svc.Outline(r.Context(), id)
	if err != nil {
		writeError(w, "outline", id, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// DiagnosticSummary handles GET /api/diagnostics.
//
//	@Summary		Per-document diagnostic counts
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	SummaryResponse
//	@Security		BearerAuth
//	@Router			/diagnostics [get]
func (h *Handler) DiagnosticSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context())
	if err != nil {
		writeError(w, "diagnostic summary", "", err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Documents: sum})
}

// Diagnostics handles GET /api/diagnostics/*.
//
//	@Summary		Get the published diagnostics of a document
//	@Tags			diagnostics
//	@Produce		json
//	@Param			path	path		string	true	"Workspace-relative path"
//	@Success		200		{object}	DiagnosticsView
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diagnostics/{path} [get]
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	id, ok := h.document(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Diagnostics(r.Context(), id)
	if err != nil {
		writeError(w, "diagnostics", id, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Dependents handles GET /api/dependents/*.
//
//	@Summary		List the dependents of a document
//	@Tags			graph
//	@Produce		json
//	@Param			path	path		string	true	"Workspace-relative path"
//	@Success		200		{object}	DependentsView
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dependents/{path} [get]
func (h *Handler) Dependents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.document(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Dependents(r.Context(), id)
	if err != nil {
		writeError(w, "dependents", id, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Compile handles POST /api/compile/*.
//
//	@Summary		Recompile a document and everything that depends on it
//	@Tags			build
//	@Produce		json
//	@Param			path	path		string	true	"Workspace-relative path"
//	@Success		200		{object}	CompileResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/compile/{path} [post]
func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.document(w, r)
	if !ok {
		return
	}
	views, err := h.svc.Compile(r.Context(), id)
	if err != nil {
		writeError(w, "compile", id, err)
		return
	}
	writeJSON(w, http.StatusOK, CompileResponse{Results: views, Failed: failedCount(views)})
}

// Artifact handles GET /api/artifacts/*.
//
//	@Summary		Get the compiled story of a script
//	@Description	Served from the artifact cache when it matches the current version.
//	@Tags			build
//	@Produce		json
//	@Param			path	path		string	true	"Workspace-relative path"
//	@Success		200		{object}	object
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	BuildView
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{path} [get]
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	id, ok := h.document(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Artifact(r.Context(), id)
	if err != nil {
		if errors.Is(err, build.ErrCompileFailed) {
			writeJSON(w, http.StatusConflict, buildservice.NewBuildView(res))
			return
		}
		writeError(w, "artifact", id, err)
		return
	}
	cache := "miss"
	if res.Cached {
		cache = "hit"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Artifact-Cache", cache)
	w.Header().Set("X-Artifact-Version", strconv.FormatInt(res.Version, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Artifact.Data)
}

// ListBuilds handles GET /api/builds.
//
//	@Summary		List recorded builds
//	@Tags			build
//	@Produce		json
//	@Param			state	query		string	false	"Filter by state"	Enums(succeeded, failed, pending)
//	@Success		200		{object}	BuildListResponse
//	@Security		BearerAuth
//	@Router			/builds [get]
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Builds(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, "list builds", "", err)
		return
	}
	writeJSON(w, http.StatusOK, BuildListResponse{Builds: rows})
}

// GetBuild handles GET /api/builds/*.
//
//	@Summary		Get the last build of a script
//	@Tags			build
//	@Produce		json
//	@Param			path	path		string	true	"Workspace-relative path"
//	@Success		200		{object}	index.BuildRow
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/builds/{path} [get]
func (h *Handler) GetBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := h.document(w, r)
	if !ok {
		return
	}
	row, err := h.svc.Build(r.Context(), id)
	if err != nil {
		writeError(w, "get build", id, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Symbols handles GET /api/symbols.
//
//	@Summary		Prefix search over outline symbols
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Name prefix"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SymbolResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/symbols [get]
func (h *Handler) Symbols(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.svc.SearchSymbols(r.Context(), q, limit)
	if err != nil {
		slog.Error("symbol search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, SymbolResponse{Results: symbolResults(h.svc, rows)})
}
