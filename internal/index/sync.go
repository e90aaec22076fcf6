package index

import (
	"context"
	"log/slog"
	"strings"

	"github.com/starford/inkbuild/internal/checksum"
	"github.com/starford/inkbuild/internal/externals"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/outline"
	"github.com/starford/inkbuild/internal/storage"
)

// Sync brings the symbol table up to date with the scanned workspace:
//   - new/changed documents are parsed and upserted
//   - documents no longer present are deleted from the index
func Sync(ctx context.Context, db *DB, store storage.Store, docs []models.Document, logger *slog.Logger) error {
	checksums, err := db.AllChecksums(ctx)
	if err != nil {
		return err
	}

	present := make(map[models.DocumentID]struct{}, len(docs))
	for _, doc := range docs {
		present[doc.ID] = struct{}{}

		text, err := store.Text(doc.ID)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", doc.ID.String()), slog.String("error", err.Error()))
			continue
		}
		if !checksum.Changed(checksums[doc.ID], []byte(text)) {
			continue
		}
		if err := IndexDocument(ctx, db, doc, text); err != nil {
			logger.Warn("sync: index failed", slog.String("path", doc.ID.String()), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", doc.ID.String()))
		}
	}

	// Remove stale entries.
	for id := range checksums {
		if _, ok := present[id]; !ok {
			if err := db.DeleteBuild(ctx, id); err != nil {
				logger.Warn("sync: delete build failed", slog.String("path", id.String()), slog.String("error", err.Error()))
			}
			if err := db.DeleteDocument(ctx, id); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", id.String()), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", id.String()))
			}
		}
	}

	return nil
}

// IndexDocument extracts the symbols of text and upserts them. Scripts
// contribute their outline; binding documents the functions they bind.
func IndexDocument(ctx context.Context, db *DB, doc models.Document, text string) error {
	var symbols []SymbolRow
	switch doc.Kind {
	case models.KindBinding:
		for _, fn := range externals.Functions(text) {
			symbols = append(symbols, SymbolRow{Document: doc.ID, Kind: "binding", Name: fn})
		}
	default:
		o, err := outline.Parse(text)
		if err != nil {
			return err
		}
		symbols = Symbols(doc.ID, o)
	}

	row := DocumentRow{
		Path:     doc.ID,
		Kind:     doc.Kind,
		Checksum: checksum.Sum([]byte(text)),
	}
	return db.UpsertDocument(ctx, row, symbols)
}

// Symbols flattens an outline into symbol rows. Includes are not symbols.
func Symbols(id models.DocumentID, o *outline.Outline) []SymbolRow {
	var out []SymbolRow
	o.Walk(func(e *outline.Entity) {
		if e.Kind == outline.KindInclude {
			return
		}
		container := ""
		if e.Parent != nil {
			container = strings.Join(e.Parent.Path(), ".")
		}
		out = append(out, SymbolRow{
			Document:  id,
			Kind:      string(e.Kind),
			Name:      e.Name,
			Container: container,
			Line:      e.Range.Start.Line,
			Character: e.Range.Start.Character,
		})
	})
	return out
}
