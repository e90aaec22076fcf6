package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "inkbuild-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"documents", "symbols", "diagnostics", "diagnostic_sets", "builds"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestSetReplacesDiagnostics(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := models.DocumentID("/w/main.ink")

	three := []models.Diagnostic{
		{Range: models.LineRange(0, 0, 5), Message: "one", Severity: models.SeverityError, Source: "compiler"},
		{Range: models.LineRange(1, 2, 4), Message: "two", Severity: models.SeverityWarning},
		{Range: models.LineRange(3, 0, 1), Message: "three", Severity: models.SeverityInfo},
	}
	if err := db.Set(ctx, id, three); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := db.Diagnostics(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Diagnostics: ok=%v err=%v", ok, err)
	}
	if len(got) != 3 || got[1].Message != "two" || got[1].Range != models.LineRange(1, 2, 4) || got[0].Source != "compiler" {
		t.Fatalf("unexpected diagnostics: %+v", got)
	}

	if err := db.Set(ctx, id, nil); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	got, ok, err = db.Diagnostics(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Diagnostics: ok=%v err=%v", ok, err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty set, got %d", len(got))
	}
}

func TestClearDiagnostics(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Set(ctx, "/w/a.ink", []models.Diagnostic{{Message: "x", Severity: models.SeverityError}})
	_ = db.Set(ctx, "/w/b.ink", []models.Diagnostic{{Message: "y", Severity: models.SeverityWarning}})

	if err := db.Clear(ctx, "/w/a.ink"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := db.Diagnostics(ctx, "/w/a.ink"); ok {
		t.Error("cleared document still published")
	}
	if _, ok, _ := db.Diagnostics(ctx, "/w/b.ink"); !ok {
		t.Error("unrelated document was cleared")
	}

	if err := db.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	summary, _ := db.Summary(ctx)
	if len(summary) != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestSummary(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Set(ctx, "/w/a.ink", []models.Diagnostic{
		{Message: "e1", Severity: models.SeverityError},
		{Message: "e2", Severity: models.SeverityError},
		{Message: "w", Severity: models.SeverityWarning},
	})
	_ = db.Set(ctx, "/w/b.ink", nil)

	summary, err := db.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := []DiagnosticSummary{
		{Document: "/w/a.ink", Errors: 2, Warnings: 1},
		{Document: "/w/b.ink"},
	}
	if len(summary) != len(want) || summary[0] != want[0] || summary[1] != want[1] {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
}

func TestRecordBuild(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	row := BuildRow{
		Document:    "/w/main.ink",
		Version:     3,
		RunID:       "run-1",
		State:       "failed",
		Diagnostics: 2,
		Includes:    []models.DocumentID{"/w/a.ink"},
		Duration:    1500 * time.Millisecond,
	}
	if err := db.RecordBuild(ctx, row); err != nil {
		t.Fatalf("RecordBuild: %v", err)
	}
	row.State, row.Version, row.Diagnostics = "succeeded", 4, 0
	if err := db.RecordBuild(ctx, row); err != nil {
		t.Fatalf("RecordBuild: %v", err)
	}

	got, err := db.GetBuild(ctx, "/w/main.ink")
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.State != "succeeded" || got.Version != 4 || got.Duration != 1500*time.Millisecond {
		t.Errorf("unexpected build: %+v", got)
	}
	if len(got.Includes) != 1 || got.Includes[0] != "/w/a.ink" {
		t.Errorf("includes = %v", got.Includes)
	}

	failed, _ := db.ListBuilds(ctx, "failed")
	if len(failed) != 0 {
		t.Errorf("expected no failed builds, got %d", len(failed))
	}
	all, _ := db.ListBuilds(ctx, "")
	if len(all) != 1 {
		t.Errorf("expected 1 build, got %d", len(all))
	}

	if err := db.DeleteBuild(ctx, "/w/main.ink"); err != nil {
		t.Fatalf("DeleteBuild: %v", err)
	}
	if _, err := db.GetBuild(ctx, "/w/main.ink"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIndexDocumentSymbols(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	doc := models.Document{ID: "/w/main.ink", Kind: models.KindScript}
	text := "INCLUDE other.ink\n== tavern ==\n= bar\nVAR gold = 1\n== cellar ==\n"

	if err := IndexDocument(ctx, db, doc, text); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	syms, err := db.Symbols(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if len(syms) != 4 {
		t.Fatalf("expected 4 symbols, got %+v", syms)
	}
	if syms[2].Name != "gold" || syms[2].Container != "tavern.bar" || syms[2].Line != 3 {
		t.Errorf("unexpected variable symbol: %+v", syms[2])
	}

	hits, err := db.SearchSymbols(ctx, "tav", 10)
	if err != nil {
		t.Fatalf("SearchSymbols: %v", err)
	}
	if len(hits) != 1 || hits[0].Name != "tavern" || hits[0].Kind != "named-block" {
		t.Errorf("search hits = %+v", hits)
	}

	// Re-indexing replaces the symbols.
	_ = IndexDocument(ctx, db, doc, "== cellar ==\n")
	if hits, _ := db.SearchSymbols(ctx, "tavern", 10); len(hits) != 0 {
		t.Errorf("stale symbol still searchable: %+v", hits)
	}
}

func TestIndexBindingDocument(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	doc := models.Document{ID: "/w/bind.js", Kind: models.KindBinding}

	if err := IndexDocument(ctx, db, doc, `story.BindExternalFunction("roll_dice", () => 4);`); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	hits, _ := db.SearchSymbols(ctx, "roll", 10)
	if len(hits) != 1 || hits[0].Kind != "binding" {
		t.Errorf("search hits = %+v", hits)
	}
}

func TestSyncRemovesStale(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	st := storage.NewMemory()
	st.Put("/w/keep.ink", "== keep ==\n")
	st.Put("/w/gone.ink", "== gone ==\n")
	docs := []models.Document{
		{ID: "/w/keep.ink", Kind: models.KindScript},
		{ID: "/w/gone.ink", Kind: models.KindScript},
	}
	if err := Sync(ctx, db, st, docs, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	cs, _ := db.GetChecksum(ctx, "/w/gone.ink")
	if cs == "" {
		t.Fatal("expected gone.ink to be indexed")
	}
	if err := db.RecordBuild(ctx, BuildRow{Document: "/w/gone.ink", State: "succeeded"}); err != nil {
		t.Fatal(err)
	}

	if err := Sync(ctx, db, st, docs[:1], logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	cs, _ = db.GetChecksum(ctx, "/w/gone.ink")
	if cs != "" {
		t.Errorf("stale document still indexed with checksum %q", cs)
	}
	all, _ := db.AllChecksums(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 document, got %d", len(all))
	}
	if _, err := db.GetBuild(ctx, "/w/gone.ink"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stale build row: err = %v", err)
	}
}
