package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/inkbuild/internal/models"
)

// DocumentRow represents a row in the documents table.
type DocumentRow struct {
	Path      models.DocumentID
	Kind      models.DocumentKind
	Checksum  string
	UpdatedAt time.Time
}

// SymbolRow is one outline entity of a document.
type SymbolRow struct {
	Document  models.DocumentID `json:"document"`
	Kind      string            `json:"kind"`
	Name      string            `json:"name"`
	Container string            `json:"container,omitempty"`
	Line      int               `json:"line"`
	Character int               `json:"character"`
}

// UpsertDocument inserts or replaces a document and its symbols within a
// transaction.
func (db *DB) UpsertDocument(ctx context.Context, doc DocumentRow, symbols []SymbolRow) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (path, kind, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind       = excluded.kind,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, doc.Path, string(doc.Kind), doc.Checksum, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// Replace symbols: delete old then bulk insert.
	_, _ = tx.ExecContext(ctx, `DELETE FROM symbols WHERE document = ?`, doc.Path)
	ftsDelete(ctx, tx, doc.Path)
	if len(symbols) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO symbols (document, kind, name, container, line, character)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare symbol insert: %w", err)
		}
		defer stmt.Close()
		for _, s := range symbols {
			if _, err := stmt.ExecContext(ctx, doc.Path, s.Kind, s.Name, s.Container, s.Line, s.Character); err != nil {
				return fmt.Errorf("index: insert symbol: %w", err)
			}
			if err := ftsInsert(ctx, tx, doc.Path, s); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document, its symbols and its build row.
func (db *DB) DeleteDocument(ctx context.Context, id models.DocumentID) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(ctx, tx, id)
	_, _ = tx.ExecContext(ctx, `DELETE FROM symbols WHERE document = ?`, id)
	_, _ = tx.ExecContext(ctx, `DELETE FROM builds WHERE document = ?`, id)
	_, _ = tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, id)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a document, or empty string if not found.
func (db *DB) GetChecksum(ctx context.Context, id models.DocumentID) (string, error) {
	var cs string
	err := db.conn.QueryRowContext(ctx, `SELECT checksum FROM documents WHERE path = ?`, id).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllChecksums returns the checksum of every indexed document.
func (db *DB) AllChecksums(ctx context.Context) (map[models.DocumentID]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[models.DocumentID]string)
	for rows.Next() {
		var p models.DocumentID
		var cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Symbols returns the symbols of one document in line order.
func (db *DB) Symbols(ctx context.Context, id models.DocumentID) ([]SymbolRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT document, kind, name, container, line, character
		FROM symbols WHERE document = ?
		ORDER BY line, character
	`, id)
	if err != nil {
		return nil, fmt.Errorf("index: symbols: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func scanSymbols(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]SymbolRow, error) {
	var out []SymbolRow
	for rows.Next() {
		var s SymbolRow
		if err := rows.Scan(&s.Document, &s.Kind, &s.Name, &s.Container, &s.Line, &s.Character); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
