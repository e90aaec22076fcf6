package index

import (
	"context"
	"fmt"

	"github.com/starford/inkbuild/internal/models"
)

// DiagnosticSummary counts the published diagnostics of one document.
type DiagnosticSummary struct {
	Document models.DocumentID `json:"document"`
	Errors   int               `json:"errors"`
	Warnings int               `json:"warnings"`
	Infos    int               `json:"infos"`
}

// Set replaces the published diagnostics of id within a transaction. An
// empty slice is recorded as a published, empty set.
func (db *DB) Set(ctx context.Context, id models.DocumentID, diags []models.Diagnostic) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM diagnostics WHERE document = ?`, id); err != nil {
		return fmt.Errorf("index: delete diagnostics: %w", err)
	}
	if len(diags) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO diagnostics (document, seq, start_line, start_character, end_line, end_character, severity, message, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare diagnostic insert: %w", err)
		}
		defer stmt.Close()
		for i, d := range diags {
			if _, err := stmt.ExecContext(ctx, id, i,
				d.Range.Start.Line, d.Range.Start.Character, d.Range.End.Line, d.Range.End.Character,
				string(d.Severity), d.Message, d.Source); err != nil {
				return fmt.Errorf("index: insert diagnostic: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO diagnostic_sets (document, updated_at) VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT(document) DO UPDATE SET updated_at = excluded.updated_at
	`, id); err != nil {
		return fmt.Errorf("index: mark published: %w", err)
	}
	return tx.Commit()
}

// Clear removes every published diagnostic of id.
func (db *DB) Clear(ctx context.Context, id models.DocumentID) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.ExecContext(ctx, `DELETE FROM diagnostics WHERE document = ?`, id)
	_, _ = tx.ExecContext(ctx, `DELETE FROM diagnostic_sets WHERE document = ?`, id)
	return tx.Commit()
}

// ClearAll removes every published diagnostic.
func (db *DB) ClearAll(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.ExecContext(ctx, `DELETE FROM diagnostics`)
	_, _ = tx.ExecContext(ctx, `DELETE FROM diagnostic_sets`)
	return tx.Commit()
}

// Diagnostics returns the published diagnostics of id in publication
// order. ok is false when nothing is published for id.
func (db *DB) Diagnostics(ctx context.Context, id models.DocumentID) ([]models.Diagnostic, bool, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM diagnostic_sets WHERE document = ?`, id).Scan(&n); err != nil {
		return nil, false, fmt.Errorf("index: diagnostics: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT start_line, start_character, end_line, end_character, severity, message, source
		FROM diagnostics
		WHERE document = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, false, fmt.Errorf("index: diagnostics: %w", err)
	}
	defer rows.Close()

	out := []models.Diagnostic{}
	for rows.Next() {
		var d models.Diagnostic
		var severity string
		if err := rows.Scan(&d.Range.Start.Line, &d.Range.Start.Character, &d.Range.End.Line, &d.Range.End.Character,
			&severity, &d.Message, &d.Source); err != nil {
			return nil, false, err
		}
		d.Severity = models.Severity(severity)
		out = append(out, d)
	}
	return out, true, rows.Err()
}

// Summary returns per-document diagnostic counts for every published set.
func (db *DB) Summary(ctx context.Context) ([]DiagnosticSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.document,
		       coalesce(sum(d.severity = 'error'), 0),
		       coalesce(sum(d.severity = 'warning'), 0),
		       coalesce(sum(d.severity = 'info'), 0)
		FROM diagnostic_sets s
		LEFT JOIN diagnostics d ON d.document = s.document
		GROUP BY s.document
		ORDER BY s.document
	`)
	if err != nil {
		return nil, fmt.Errorf("index: summary: %w", err)
	}
	defer rows.Close()

	var out []DiagnosticSummary
	for rows.Next() {
		var s DiagnosticSummary
		if err := rows.Scan(&s.Document, &s.Errors, &s.Warnings, &s.Infos); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
