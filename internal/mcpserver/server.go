// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes inkbuild tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/buildservice"
	"github.com/starford/inkbuild/internal/models"
)

const outlineKindsURI = "inkbuild://outline-kinds"

// Server wraps the MCP server with inkbuild tools.
type Server struct {
	mcp *server.MCPServer
	svc *buildservice.Service
}

// New creates a new MCP server with all inkbuild tools registered.
func New(svc *buildservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"inkbuild",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List every ink script and binding file known to the build, with the state of its last compile."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("compile_document",
		mcp.WithDescription("Compile a script (or recompile everything that includes it) and return the results."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative path (e.g. chapters/one.ink)")),
	), s.compileDocument)

	s.mcp.AddTool(mcp.NewTool("get_diagnostics",
		mcp.WithDescription("Return the diagnostics currently published for a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative path")),
	), s.getDiagnostics)

	s.mcp.AddTool(mcp.NewTool("get_outline",
		mcp.WithDescription("Return the structural outline (knots, stitches, includes, externals...) of a script. "+
			"See the "+outlineKindsURI+" resource for the entity kinds."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative path")),
	), s.getOutline)

	s.mcp.AddTool(mcp.NewTool("list_dependents",
		mcp.WithDescription("List the documents that depend on a document, directly and transitively."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative path")),
	), s.listDependents)

	s.mcp.AddTool(mcp.NewTool("search_symbols",
		mcp.WithDescription("Prefix search over knot, stitch, variable, list and external function names."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Name prefix")),
	), s.searchSymbols)

	s.mcp.AddResource(
		mcp.NewResource(outlineKindsURI, "Outline Contract",
			mcp.WithResourceDescription("Entity kinds and fields returned by get_outline."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOutlineKindsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listDocuments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items := s.svc.Documents(ctx)
	lines := make([]string, 0, len(items))
	for _, it := range items {
		line := fmt.Sprintf("%s\t%s", s.svc.Relative(it.Path), it.Kind)
		if it.State != "" {
			line += "\t" + it.State
		}
		lines = append(lines, line)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) compileDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := s.documentID(req)
	if errResult != nil {
		return errResult, nil
	}
	views, err := s.svc.Compile(ctx, id)
	if err != nil {
		return s.toolError(id, err), nil
	}
	return jsonResult(views)
}

func (s *Server) getDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := s.documentID(req)
	if errResult != nil {
		return errResult, nil
	}
	v, err := s.svc.Diagnostics(ctx, id)
	if err != nil {
		return s.toolError(id, err), nil
	}
	if len(v.Diagnostics) == 0 {
		return mcp.NewToolResultText("no diagnostics"), nil
	}
	lines := make([]string, 0, len(v.Diagnostics))
	for _, d := range v.Diagnostics {
		lines = append(lines, fmt.Sprintf("%s:%d:%d: %s: %s [%s]",
			s.svc.Relative(id), d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message, d.Source))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getOutline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := s.documentID(req)
	if errResult != nil {
		return errResult, nil
	}
	o, err := s.svc.Outline(ctx, id)
	if err != nil {
		return s.toolError(id, err), nil
	}
	return jsonResult(o)
}

func (s *Server) listDependents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := s.documentID(req)
	if errResult != nil {
		return errResult, nil
	}
	v, err := s.svc.Dependents(ctx, id)
	if err != nil {
		return s.toolError(id, err), nil
	}
	if len(v.Transitive) == 0 {
		return mcp.NewToolResultText("no dependents found"), nil
	}
	paths := make([]string, len(v.Transitive))
	for i, d := range v.Transitive {
		paths[i] = s.svc.Relative(d)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) searchSymbols(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.svc.SearchSymbols(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for i := range rows {
		rows[i].Document = models.DocumentID(s.svc.Relative(rows[i].Document))
	}
	return jsonResult(rows)
}

func (s *Server) readOutlineKindsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      outlineKindsURI,
			MIMEType: "text/markdown",
			Text:     OutlineKindsContract,
		},
	}, nil
}

func (s *Server) documentID(req mcp.CallToolRequest) (models.DocumentID, *mcp.CallToolResult) {
	path, err := req.RequireString("path")
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	id, err := s.svc.DocumentID(path)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return id, nil
}

func (s *Server) toolError(id models.DocumentID, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", s.svc.Relative(id)))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
