package build

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/compiler"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/pipeline"
)

// Result is the outcome of compiling one root document.
type Result struct {
	ID       models.DocumentID
	Version  int64
	RunID    string
	State    pipeline.State
	Artifact *compiler.Artifact
	// Diagnostics holds the published set of every document the run
	// touched, including empty sets.
	Diagnostics map[models.DocumentID][]models.Diagnostic
	Includes    []models.DocumentID
	Emitted     models.DocumentID
	Cached      bool
	Duration    time.Duration
	// Err is set when the document could not be compiled at all.
	Err error
}

// Succeeded reports whether an artifact was produced.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.State == pipeline.Succeeded
}

// DiagnosticCount returns the number of diagnostics across all documents.
func (r Result) DiagnosticCount() int {
	n := 0
	for _, diags := range r.Diagnostics {
		n += len(diags)
	}
	return n
}

// Batch aggregates the results of one recompilation round.
type Batch struct {
	results map[models.DocumentID]Result
}

func newBatch() *Batch {
	return &Batch{results: make(map[models.DocumentID]Result)}
}

func (b *Batch) add(r Result) {
	b.results[r.ID] = r
}

// Get returns the result of id. Asking for a document that was not part of
// the batch is an error, unlike a document that compiled with failure.
func (b *Batch) Get(id models.DocumentID) (Result, error) {
	r, ok := b.results[id]
	if !ok {
		return Result{}, fmt.Errorf("build: %s: %w", id, apperr.ErrNotInBatch)
	}
	return r, nil
}

// Len returns the number of results.
func (b *Batch) Len() int { return len(b.results) }

// IDs returns the compiled documents, sorted.
func (b *Batch) IDs() []models.DocumentID {
	return slices.Sorted(maps.Keys(b.results))
}

// All iterates over the results in identifier order.
func (b *Batch) All() iter.Seq2[models.DocumentID, Result] {
	return func(yield func(models.DocumentID, Result) bool) {
		for _, id := range b.IDs() {
			if !yield(id, b.results[id]) {
				return
			}
		}
	}
}

// Failed returns the documents that did not produce an artifact, sorted.
func (b *Batch) Failed() []models.DocumentID {
	var out []models.DocumentID
	for id, r := range b.All() {
		if !r.Succeeded() {
			out = append(out, id)
		}
	}
	return out
}
