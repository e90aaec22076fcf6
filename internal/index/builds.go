package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/models"
)

// BuildRow is the last recorded compile of a root document.
type BuildRow struct {
	Document    models.DocumentID   `json:"document"`
	Version     int64               `json:"version"`
	RunID       string              `json:"run_id"`
	State       string              `json:"state"`
	Diagnostics int                 `json:"diagnostics"`
	Includes    []models.DocumentID `json:"includes"`
	Emitted     models.DocumentID   `json:"emitted,omitempty"`
	Duration    time.Duration       `json:"duration"`
	CompiledAt  time.Time           `json:"compiled_at"`
}

// RecordBuild inserts or replaces the build row of b.Document.
func (db *DB) RecordBuild(ctx context.Context, b BuildRow) error {
	includes := b.Includes
	if includes == nil {
		includes = []models.DocumentID{}
	}
	includesJSON, _ := json.Marshal(includes)
	if b.CompiledAt.IsZero() {
		b.CompiledAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO builds (document, version, run_id, state, diagnostics, includes, emitted, duration_ms, compiled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document) DO UPDATE SET
			version     = excluded.version,
			run_id      = excluded.run_id,
			state       = excluded.state,
			diagnostics = excluded.diagnostics,
			includes    = excluded.includes,
			emitted     = excluded.emitted,
			duration_ms = excluded.duration_ms,
			compiled_at = excluded.compiled_at
	`, b.Document, b.Version, b.RunID, b.State, b.Diagnostics, string(includesJSON), b.Emitted,
		b.Duration.Milliseconds(), b.CompiledAt)
	if err != nil {
		return fmt.Errorf("index: record build: %w", err)
	}
	return nil
}

// GetBuild returns the build row of id.
func (db *DB) GetBuild(ctx context.Context, id models.DocumentID) (*BuildRow, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT document, version, run_id, state, diagnostics, includes, emitted, duration_ms, compiled_at
		FROM builds WHERE document = ?
	`, id)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: build %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get build: %w", err)
	}
	return b, nil
}

// ListBuilds returns every build row, optionally filtered by state.
func (db *DB) ListBuilds(ctx context.Context, state string) ([]BuildRow, error) {
	query := `SELECT document, version, run_id, state, diagnostics, includes, emitted, duration_ms, compiled_at FROM builds`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY document`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list builds: %w", err)
	}
	defer rows.Close()

	var out []BuildRow
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// DeleteBuild removes the build row of id.
func (db *DB) DeleteBuild(ctx context.Context, id models.DocumentID) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM builds WHERE document = ?`, id); err != nil {
		return fmt.Errorf("index: delete build: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(s scanner) (*BuildRow, error) {
	var b BuildRow
	var includesJSON string
	var durationMS int64
	if err := s.Scan(&b.Document, &b.Version, &b.RunID, &b.State, &b.Diagnostics, &includesJSON,
		&b.Emitted, &durationMS, &b.CompiledAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(includesJSON), &b.Includes)
	b.Duration = time.Duration(durationMS) * time.Millisecond
	return &b, nil
}
