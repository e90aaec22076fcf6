package buildservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/checksum"
	"github.com/starford/inkbuild/internal/index"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/storage"
)

// Recorder persists engine events into the index: build rows for every
// compile, symbols for every document the compile walked. It is installed
// with build.WithObserver and runs under the engine lock, so it must not
// call back into the engine.
type Recorder struct {
	db     *index.DB
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(db *index.DB, store storage.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, store: store, logger: logger, now: time.Now}
}

// Observe implements build.Observer.
func (r *Recorder) Observe(ev build.Event) {
	ctx := context.Background()
	switch ev.Type {
	case build.EventRegistered:
		r.index(ctx, models.Document{ID: ev.ID, Kind: ev.Kind})
	case build.EventCompiled:
		if ev.Result == nil {
			return
		}
		r.record(ctx, *ev.Result)
	case build.EventDeleted:
		if err := r.db.DeleteBuild(ctx, ev.ID); err != nil {
			r.warn("delete build", ev.ID, err)
		}
		if err := r.db.DeleteDocument(ctx, ev.ID); err != nil {
			r.warn("delete document", ev.ID, err)
		}
	}
}

func (r *Recorder) record(ctx context.Context, res build.Result) {
	row := index.BuildRow{
		Document:    res.ID,
		Version:     res.Version,
		RunID:       res.RunID,
		State:       res.State.String(),
		Diagnostics: res.DiagnosticCount(),
		Includes:    res.Includes,
		Emitted:     res.Emitted,
		Duration:    res.Duration,
		CompiledAt:  r.now(),
	}
	if err := r.db.RecordBuild(ctx, row); err != nil {
		r.warn("record build", res.ID, err)
	}

	r.index(ctx, models.Document{ID: res.ID, Kind: models.KindScript})
	for _, inc := range res.Includes {
		r.index(ctx, models.Document{ID: inc, Kind: models.KindScript})
	}
}

func (r *Recorder) index(ctx context.Context, doc models.Document) {
	text, err := r.store.Text(doc.ID)
	if err != nil {
		r.warn("read", doc.ID, err)
		return
	}
	prev, _ := r.db.GetChecksum(ctx, doc.ID)
	if !checksum.Changed(prev, []byte(text)) {
		return
	}
	if err := index.IndexDocument(ctx, r.db, doc, text); err != nil {
		r.warn("index", doc.ID, err)
		return
	}
	r.logger.Debug("buildservice: indexed", slog.String("path", doc.ID.String()))
}

func (r *Recorder) warn(op string, id models.DocumentID, err error) {
	r.logger.Warn("buildservice: "+op+" failed",
		slog.String("path", id.String()),
		slog.String("error", err.Error()))
}
