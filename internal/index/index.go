package index

import (
	"context"

	"github.com/starford/inkbuild/internal/diagnostics"
	"github.com/starford/inkbuild/internal/models"
)

// BuildIndex defines the persisted view of the workspace build.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type BuildIndex interface {
	diagnostics.Sink

	Diagnostics(ctx context.Context, id models.DocumentID) ([]models.Diagnostic, bool, error)
	Summary(ctx context.Context) ([]DiagnosticSummary, error)

	RecordBuild(ctx context.Context, b BuildRow) error
	GetBuild(ctx context.Context, id models.DocumentID) (*BuildRow, error)
	ListBuilds(ctx context.Context, state string) ([]BuildRow, error)
	DeleteBuild(ctx context.Context, id models.DocumentID) error

	UpsertDocument(ctx context.Context, doc DocumentRow, symbols []SymbolRow) error
	DeleteDocument(ctx context.Context, id models.DocumentID) error
	AllChecksums(ctx context.Context) (map[models.DocumentID]string, error)
	SearchSymbols(ctx context.Context, query string, limit int) ([]SymbolRow, error)

	Close() error
}

// Verify *DB satisfies BuildIndex at compile time.
var _ BuildIndex = (*DB)(nil)
