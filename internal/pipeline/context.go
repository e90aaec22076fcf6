// Package pipeline runs the ordered stages that turn one root document into
// a compiled artifact plus diagnostics and discovered dependencies.
package pipeline

import (
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/starford/inkbuild/internal/compiler"
	"github.com/starford/inkbuild/internal/depgraph"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/outline"
)

// State is the tag of an Outcome.
type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is Pending until the compile stage decides it. Only a Succeeded
// outcome carries an artifact.
type Outcome struct {
	state    State
	artifact *compiler.Artifact
}

// State returns the tag.
func (o Outcome) State() State { return o.state }

// Artifact returns the compiled artifact of a Succeeded outcome.
func (o Outcome) Artifact() (*compiler.Artifact, bool) {
	return o.artifact, o.state == Succeeded
}

// Document is a loaded document taking part in one run.
type Document struct {
	ID      models.DocumentID
	Text    string
	Version int64
	Outline *outline.Outline
}

// Context is the scratch state of one compilation of one root document.
type Context struct {
	ID      models.DocumentID
	Text    string
	Version int64
	RunID   string
	Logger  *slog.Logger

	// Outline is set by the outline stage.
	Outline *outline.Outline
	// Emitted is the artifact location written by the emit stage.
	Emitted models.DocumentID

	diagnostics map[models.DocumentID][]models.Diagnostic
	edges       []depgraph.Edge
	includes    map[models.DocumentID]*Document
	order       []models.DocumentID
	missing     []depgraph.Edge
	resolved    map[models.DocumentID]map[string]models.DocumentID
	bindings    []models.DocumentID
	unbound     []string
	outcome     Outcome
}

// NewContext prepares a run for the given root document.
func NewContext(id models.DocumentID, text string, version int64, logger *slog.Logger) *Context {
	runID := uuid.NewString()
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		ID:          id,
		Text:        text,
		Version:     version,
		RunID:       runID,
		Logger:      logger.With(slog.String("run_id", runID), slog.String("document", id.String())),
		diagnostics: make(map[models.DocumentID][]models.Diagnostic),
		includes:    make(map[models.DocumentID]*Document),
		resolved:    make(map[models.DocumentID]map[string]models.DocumentID),
	}
}

// AddDiagnostic attaches d to doc (the root or an included document).
func (c *Context) AddDiagnostic(doc models.DocumentID, d models.Diagnostic) {
	c.diagnostics[doc] = append(c.diagnostics[doc], d)
}

// Diagnostics returns the diagnostics recorded for doc.
func (c *Context) Diagnostics(doc models.DocumentID) []models.Diagnostic {
	return c.diagnostics[doc]
}

// AllDiagnostics returns a copy of the per-document diagnostics.
func (c *Context) AllDiagnostics() map[models.DocumentID][]models.Diagnostic {
	out := make(map[models.DocumentID][]models.Diagnostic, len(c.diagnostics))
	for id, diags := range c.diagnostics {
		out[id] = slices.Clone(diags)
	}
	return out
}

// DiagnosticCount returns the number of diagnostics across all documents.
func (c *Context) DiagnosticCount() int {
	n := 0
	for _, diags := range c.diagnostics {
		n += len(diags)
	}
	return n
}

// AddEdge records that from depends on to. Duplicates and self edges are
// ignored.
func (c *Context) AddEdge(from, to models.DocumentID) {
	e := depgraph.Edge{From: from, To: to}
	if from == to || slices.Contains(c.edges, e) {
		return
	}
	c.edges = append(c.edges, e)
}

// Edges returns the discovered dependency edges in discovery order.
func (c *Context) Edges() []depgraph.Edge { return c.edges }

// EdgesFrom returns the targets of the edges leaving from.
func (c *Context) EdgesFrom(from models.DocumentID) []models.DocumentID {
	var out []models.DocumentID
	for _, e := range c.edges {
		if e.From == from {
			out = append(out, e.To)
		}
	}
	return out
}

// AddInclude records a loaded include document.
func (c *Context) AddInclude(doc *Document) {
	if _, ok := c.includes[doc.ID]; ok {
		return
	}
	c.includes[doc.ID] = doc
	c.order = append(c.order, doc.ID)
}

// Include returns a loaded include by id.
func (c *Context) Include(id models.DocumentID) (*Document, bool) {
	doc, ok := c.includes[id]
	return doc, ok
}

// Includes returns the loaded includes in load order.
func (c *Context) Includes() []*Document {
	out := make([]*Document, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.includes[id])
	}
	return out
}

// Walked returns the root and every include whose outline is known, i.e.
// the documents whose dependencies this run fully discovered.
func (c *Context) Walked() []*Document {
	var out []*Document
	if c.Outline != nil {
		out = append(out, &Document{ID: c.ID, Text: c.Text, Version: c.Version, Outline: c.Outline})
	}
	for _, doc := range c.Includes() {
		if doc.Outline != nil {
			out = append(out, doc)
		}
	}
	return out
}

// AddResolution records that an include path written in from
// resolved to target.
func (c *Context) AddResolution(from models.DocumentID, written string, target models.DocumentID) {
	m, ok := c.resolved[from]
	if !ok {
		m = make(map[string]models.DocumentID)
		c.resolved[from] = m
	}
	m[written] = target
}

// Resolutions returns the written include paths of from mapped to the
// documents they resolved to.
func (c *Context) Resolutions(from models.DocumentID) map[string]models.DocumentID {
	return c.resolved[from]
}

// AddMissing records an include that resolved to a document which does not
// exist yet.
func (c *Context) AddMissing(from, to models.DocumentID) {
	c.missing = append(c.missing, depgraph.Edge{From: from, To: to})
}

// Missing returns the includes waiting for their target to appear.
func (c *Context) Missing() []depgraph.Edge { return c.missing }

// AddBinding records a binding document the artifact depends on.
func (c *Context) AddBinding(id models.DocumentID) {
	if !slices.Contains(c.bindings, id) {
		c.bindings = append(c.bindings, id)
	}
}

// Bindings returns the binding documents the artifact depends on.
func (c *Context) Bindings() []models.DocumentID { return c.bindings }

// AddUnbound records an external function no binding document provides.
func (c *Context) AddUnbound(fn string) {
	if !slices.Contains(c.unbound, fn) {
		c.unbound = append(c.unbound, fn)
	}
}

// Unbound returns the external functions left without a binding.
func (c *Context) Unbound() []string { return c.unbound }

// Succeed stores the artifact.
func (c *Context) Succeed(art *compiler.Artifact) {
	c.outcome = Outcome{state: Succeeded, artifact: art}
}

// Fail marks the run failed, dropping any artifact.
func (c *Context) Fail() {
	c.outcome = Outcome{state: Failed}
}

// Outcome returns the current result of the run.
func (c *Context) Outcome() Outcome { return c.outcome }

// abort replaces all diagnostics with a single error at the start of the
// root document.
func (c *Context) abort(stage string, err error) {
	c.diagnostics = map[models.DocumentID][]models.Diagnostic{
		c.ID: {{
			Message:  stage + " stage failed: " + err.Error(),
			Severity: models.SeverityError,
			Source:   "pipeline",
		}},
	}
	c.Fail()
}
