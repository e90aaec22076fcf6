package api

import (
	"github.com/starford/inkbuild/internal/buildservice"
	"github.com/starford/inkbuild/internal/depgraph"
	"github.com/starford/inkbuild/internal/index"
)

// DocumentItem is one entry of the document listing (aliased from the domain layer).
type DocumentItem = buildservice.DocumentItem

// BuildView is one compile result (aliased from the domain layer).
type BuildView = buildservice.BuildView

// DiagnosticsView is the published diagnostic set of a document.
type DiagnosticsView = buildservice.DiagnosticsView

// DependentsView lists who depends on a document.
type DependentsView = buildservice.DependentsView

// DocumentListResponse wraps the document listing.
type DocumentListResponse struct {
	Documents []DocumentItem `json:"documents" validate:"required"`
	Total     int            `json:"total" example:"12" validate:"required"`
}

// GraphResponse wraps the dependency graph.
type GraphResponse struct {
	Nodes []depgraph.Node `json:"nodes" validate:"required"`
	Edges []depgraph.Edge `json:"edges" validate:"required"`
}

// CompileResponse wraps the results of one recompilation round.
type CompileResponse struct {
	Results []BuildView `json:"results" validate:"required"`
	Failed  int         `json:"failed" example:"0" validate:"required"`
}

// SummaryResponse wraps per-document diagnostic counts.
type SummaryResponse struct {
	Documents []index.DiagnosticSummary `json:"documents" validate:"required"`
}

// BuildListResponse wraps recorded builds.
type BuildListResponse struct {
	Builds []index.BuildRow `json:"builds" validate:"required"`
}

// SymbolResult is a single symbol hit in the API response.
type SymbolResult struct {
	Document  string `json:"document" example:"chapters/one.ink" validate:"required"`
	Kind      string `json:"kind" example:"named-block" validate:"required"`
	Name      string `json:"name" example:"intro" validate:"required"`
	Container string `json:"container,omitempty" example:"one"`
	Line      int    `json:"line" example:"3"`
	Character int    `json:"character" example:"4"`
}

// SymbolResponse wraps symbol search results.
type SymbolResponse struct {
	Results []SymbolResult `json:"results" validate:"required"`
}

func symbolResults(svc *buildservice.Service, rows []index.SymbolRow) []SymbolResult {
	out := make([]SymbolResult, len(rows))
	for i, r := range rows {
		out[i] = SymbolResult{
			Document:  svc.Relative(r.Document),
			Kind:      r.Kind,
			Name:      r.Name,
			Container: r.Container,
			Line:      r.Line,
			Character: r.Character,
		}
	}
	return out
}

func failedCount(views []BuildView) int {
	n := 0
	for _, v := range views {
		if v.State != "succeeded" {
			n++
		}
	}
	return n
}
