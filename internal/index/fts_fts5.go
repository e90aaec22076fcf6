//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/inkbuild/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
			document UNINDEXED,
			kind UNINDEXED,
			line UNINDEXED,
			character UNINDEXED,
			name,
			container,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(ctx context.Context, tx *sql.Tx, id models.DocumentID, s SymbolRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO symbols_fts (document, kind, line, character, name, container) VALUES (?, ?, ?, ?, ?, ?)
	`, id, s.Kind, s.Line, s.Character, s.Name, s.Container)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsDelete(ctx context.Context, tx *sql.Tx, id models.DocumentID) {
	_, _ = tx.ExecContext(ctx, `DELETE FROM symbols_fts WHERE document = ?`, id)
}

// SearchSymbols performs an FTS5 prefix search over symbol names and
// containers.
func (db *DB) SearchSymbols(ctx context.Context, query string, limit int) ([]SymbolRow, error) {
	if limit <= 0 {
		limit = 20
	}
	match := `"` + strings.ReplaceAll(query, `"`, `""`) + `"*`
	rows, err := db.conn.QueryContext(ctx, `
		SELECT document, kind, name, container, line, character
		FROM symbols_fts
		WHERE symbols_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search symbols: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}
