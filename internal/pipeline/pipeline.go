package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Stage is one step of the pipeline. Recoverable problems are recorded on
// the context as diagnostics; a returned error aborts the run.
type Stage interface {
	Name() string
	Run(ctx context.Context, pc *Context) error
}

// Pipeline runs stages in registration order.
type Pipeline struct {
	stages []Stage
}

// New creates a pipeline with the given stages.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Register appends a stage.
func (p *Pipeline) Register(s Stage) {
	p.stages = append(p.stages, s)
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

// Run executes every stage against pc. When a stage returns an error the
// remaining stages are skipped and pc holds one diagnostic describing it.
func (p *Pipeline) Run(ctx context.Context, pc *Context) {
	for _, s := range p.stages {
		start := time.Now()
		if err := s.Run(ctx, pc); err != nil {
			pc.Logger.Warn("pipeline: stage failed",
				slog.String("stage", s.Name()),
				slog.String("error", err.Error()))
			pc.abort(s.Name(), err)
			return
		}
		pc.Logger.Debug("pipeline: stage done",
			slog.String("stage", s.Name()),
			slog.Duration("took", time.Since(start)),
			slog.Int("diagnostics", pc.DiagnosticCount()))
	}
}
