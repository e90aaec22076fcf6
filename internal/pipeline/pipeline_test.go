package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkbuild/internal/compiler"
	"github.com/starford/inkbuild/internal/depgraph"
	"github.com/starford/inkbuild/internal/externals"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/resolver"
	"github.com/starford/inkbuild/internal/storage"
)

const (
	mainID models.DocumentID = "/w/main.ink"
	aID    models.DocumentID = "/w/a.ink"
	bID    models.DocumentID = "/w/b.ink"
	bindID models.DocumentID = "/w/bind.js"
)

type recordingCompiler struct {
	includes []models.DocumentID
	resolved map[models.DocumentID]map[string]models.DocumentID
	errs     []compiler.Error
	err      error
}

func (c *recordingCompiler) Compile(_ context.Context, root compiler.Source, includes []compiler.Source) (*compiler.Artifact, []compiler.Error, error) {
	c.includes = nil
	c.resolved = map[models.DocumentID]map[string]models.DocumentID{root.ID: root.Includes}
	for _, inc := range includes {
		c.includes = append(c.includes, inc.ID)
		c.resolved[inc.ID] = inc.Includes
	}
	if c.err != nil {
		return nil, nil, c.err
	}
	for _, e := range c.errs {
		if e.Severity == models.SeverityError {
			return nil, c.errs, nil
		}
	}
	return &compiler.Artifact{Format: "json", Data: []byte(`{"root":"` + root.ID.String() + `"}`)}, c.errs, nil
}

type failingWriter struct{}

func (failingWriter) Write(models.DocumentID, []byte) error { return errors.New("disk full") }

type stageFunc struct {
	name string
	fn   func(ctx context.Context, pc *Context) error
}

func (s stageFunc) Name() string                               { return s.name }
func (s stageFunc) Run(ctx context.Context, pc *Context) error { return s.fn(ctx, pc) }

func newRun(t *testing.T, st *storage.Memory, id models.DocumentID, stages ...Stage) *Context {
	t.Helper()
	text, err := st.Text(id)
	require.NoError(t, err)
	version, err := st.Version(id)
	require.NoError(t, err)
	pc := NewContext(id, text, version, nil)
	New(stages...).Run(context.Background(), pc)
	return pc
}

func TestIncludeCycleTerminates(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "INCLUDE a.ink\n== start ==\nHello")
	st.Put(aID, "INCLUDE b.ink\n")
	st.Put(bID, "INCLUDE a.ink\nINCLUDE main.ink\n")

	c := &recordingCompiler{}
	pc := newRun(t, st, mainID,
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRelative},
		&CompileStage{Compiler: c},
	)

	assert.Equal(t, []depgraph.Edge{
		{From: mainID, To: aID},
		{From: aID, To: bID},
		{From: bID, To: aID},
		{From: bID, To: mainID},
	}, pc.Edges())
	assert.Equal(t, []models.DocumentID{aID, bID}, c.includes)
	assert.Len(t, pc.Walked(), 3)
	assert.Equal(t, Succeeded, pc.Outcome().State())
	assert.Zero(t, pc.DiagnosticCount())
}

func TestMissingIncludeProducesOneDiagnostic(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "INCLUDE gone.ink\nHello")

	pc := newRun(t, st, mainID,
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRelative},
		&CompileStage{Compiler: &recordingCompiler{}},
	)

	diags := pc.Diagnostics(mainID)
	require.Len(t, diags, 1)
	assert.Equal(t, models.LineRange(0, 0, 16), diags[0].Range)
	assert.Equal(t, models.SeverityError, diags[0].Severity)
	assert.Equal(t, SourceInclude, diags[0].Source)
	assert.Empty(t, pc.Edges())
	assert.Equal(t, []depgraph.Edge{{From: mainID, To: "/w/gone.ink"}}, pc.Missing())
}

func TestUnresolvableInclude(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "INCLUDE /abs.ink\n")

	pc := newRun(t, st, mainID,
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRelative},
	)

	diags := pc.Diagnostics(mainID)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "cannot resolve include")
	assert.Empty(t, pc.Missing())
}

func TestRootRelativeInclude(t *testing.T) {
	st := storage.NewMemory()
	st.Put("/w/story/main.ink", "INCLUDE /lib/util.ink\n")
	st.Put("/w/lib/util.ink", "== util ==\n")

	pc := newRun(t, st, "/w/story/main.ink",
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRootRelative, Root: "/w"},
	)

	assert.Equal(t, []depgraph.Edge{{From: "/w/story/main.ink", To: "/w/lib/util.ink"}}, pc.Edges())
}

func TestCompilerSeesResolvedIncludes(t *testing.T) {
	st := storage.NewMemory()
	st.Put("/w/story/main.ink", "INCLUDE parts/a.ink\n")
	st.Put("/w/story/parts/a.ink", "INCLUDE /lib/util.ink\nINCLUDE ../main.ink\n")
	st.Put("/w/lib/util.ink", "== util ==\n")

	c := &recordingCompiler{}
	pc := newRun(t, st, "/w/story/main.ink",
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRootRelative, Root: "/w"},
		&CompileStage{Compiler: c},
	)

	require.Equal(t, Succeeded, pc.Outcome().State())
	assert.Equal(t, map[string]models.DocumentID{"parts/a.ink": "/w/story/parts/a.ink"},
		c.resolved["/w/story/main.ink"])
	assert.Equal(t, map[string]models.DocumentID{
		"/lib/util.ink": "/w/lib/util.ink",
		"../main.ink":   "/w/story/main.ink",
	}, c.resolved["/w/story/parts/a.ink"])
	assert.Empty(t, c.resolved["/w/lib/util.ink"])
}

func TestSelfIncludeIsIgnored(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "INCLUDE main.ink\n")

	pc := newRun(t, st, mainID,
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRelative},
	)

	assert.Empty(t, pc.Edges())
	diags := pc.Diagnostics(mainID)
	require.Len(t, diags, 1)
	assert.Equal(t, models.SeverityWarning, diags[0].Severity)
}

func TestStageErrorAbortsRun(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "INCLUDE gone.ink\n")

	ranAfter := false
	pc := newRun(t, st, mainID,
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRelative},
		stageFunc{name: "boom", fn: func(context.Context, *Context) error { return errors.New("exploded") }},
		stageFunc{name: "after", fn: func(context.Context, *Context) error { ranAfter = true; return nil }},
	)

	assert.False(t, ranAfter)
	assert.Equal(t, Failed, pc.Outcome().State())
	all := pc.AllDiagnostics()
	require.Len(t, all, 1)
	diags := all[mainID]
	require.Len(t, diags, 1)
	assert.Equal(t, models.Range{}, diags[0].Range)
	assert.Equal(t, "pipeline", diags[0].Source)
	assert.Contains(t, diags[0].Message, "boom stage failed: exploded")
}

func TestInvalidRootEncodingFailsRun(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "bad \xff text")

	pc := newRun(t, st, mainID, OutlineStage{}, &CompileStage{Compiler: &recordingCompiler{}})

	assert.Equal(t, Failed, pc.Outcome().State())
	assert.Len(t, pc.Diagnostics(mainID), 1)
	assert.Nil(t, pc.Outline)
	assert.Empty(t, pc.Walked())
}

func TestExternalStageLinksBindings(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "INCLUDE a.ink\nEXTERNAL roll(sides)\n")
	st.Put(aID, "EXTERNAL shout(x)\n")

	idx := externals.NewIndex()
	idx.Update(bindID, `story.BindExternalFunction("roll", r => 4);`)

	pc := newRun(t, st, mainID,
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRelative},
		&ExternalStage{Bindings: idx},
	)

	assert.Equal(t, []depgraph.Edge{
		{From: mainID, To: aID},
		{From: mainID, To: bindID},
	}, pc.Edges())
	assert.Equal(t, []models.DocumentID{bindID}, pc.Bindings())
	diags := pc.Diagnostics(aID)
	require.Len(t, diags, 1)
	assert.Equal(t, models.SeverityWarning, diags[0].Severity)
	assert.Contains(t, diags[0].Message, `"shout"`)
	assert.Equal(t, []string{"shout"}, pc.Unbound())
}

func TestCompileErrorsLandOnTheirDocument(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "INCLUDE a.ink\n")
	st.Put(aID, "-> nowhere\n")

	c := &recordingCompiler{errs: []compiler.Error{
		{Document: aID, Range: models.LineRange(0, 0, 10), Message: "divert target not found", Severity: models.SeverityError},
		{Message: "unused knot", Severity: models.SeverityWarning},
	}}
	pc := newRun(t, st, mainID,
		OutlineStage{},
		&IncludeStage{Store: st, Mode: resolver.ModeRelative},
		&CompileStage{Compiler: c},
	)

	assert.Equal(t, Failed, pc.Outcome().State())
	_, ok := pc.Outcome().Artifact()
	assert.False(t, ok)
	require.Len(t, pc.Diagnostics(aID), 1)
	require.Len(t, pc.Diagnostics(mainID), 1)
	assert.Equal(t, SourceCompiler, pc.Diagnostics(mainID)[0].Source)
}

func TestCompilerInfrastructureErrorIsHardFailure(t *testing.T) {
	st := storage.NewMemory()
	st.Put(mainID, "Hello\n")

	pc := newRun(t, st, mainID, OutlineStage{}, &CompileStage{Compiler: &recordingCompiler{err: errors.New("no binary")}})

	assert.Equal(t, Failed, pc.Outcome().State())
	diags := pc.Diagnostics(mainID)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "compile stage failed")
}

func TestEmitStage(t *testing.T) {
	t.Run("writes artifact", func(t *testing.T) {
		st := storage.NewMemory()
		st.Put(mainID, "Hello\n")

		pc := newRun(t, st, mainID,
			OutlineStage{},
			&CompileStage{Compiler: &recordingCompiler{}},
			&EmitStage{Enabled: true, Writer: st},
		)

		assert.Equal(t, models.DocumentID("/w/out/main.json"), pc.Emitted)
		text, err := st.Text("/w/out/main.json")
		require.NoError(t, err)
		assert.Contains(t, text, "/w/main.ink")
	})

	t.Run("write failure is a warning", func(t *testing.T) {
		st := storage.NewMemory()
		st.Put(mainID, "Hello\n")

		pc := newRun(t, st, mainID,
			OutlineStage{},
			&CompileStage{Compiler: &recordingCompiler{}},
			&EmitStage{Enabled: true, Writer: failingWriter{}},
		)

		assert.Equal(t, Succeeded, pc.Outcome().State())
		diags := pc.Diagnostics(mainID)
		require.Len(t, diags, 1)
		assert.Equal(t, models.SeverityWarning, diags[0].Severity)
		assert.Empty(t, pc.Emitted)
	})

	t.Run("disabled", func(t *testing.T) {
		st := storage.NewMemory()
		st.Put(mainID, "Hello\n")

		pc := newRun(t, st, mainID,
			OutlineStage{},
			&CompileStage{Compiler: &recordingCompiler{}},
			&EmitStage{Writer: st},
		)

		assert.Empty(t, pc.Emitted)
	})
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, models.DocumentID("/w/out/main.json"), OutputPath(mainID, ""))
	assert.Equal(t, models.DocumentID("/w/build/main.json"), OutputPath(mainID, "build"))
	assert.Equal(t, models.DocumentID("/dist/main.json"), OutputPath(mainID, "/dist"))
}

func TestPipelineStages(t *testing.T) {
	p := New(DefaultStages(storage.NewMemory(), resolver.ModeRelative, "", externals.NewIndex(), &recordingCompiler{}, &EmitStage{})...)
	assert.Equal(t, []string{"outline", "include", "external", "compile", "emit"}, p.Stages())
}
