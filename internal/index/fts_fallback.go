//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/inkbuild/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; symbol search uses LIKE on the symbols table.
	return nil
}

func ftsInsert(_ context.Context, _ *sql.Tx, _ models.DocumentID, _ SymbolRow) error {
	// Symbols are already stored in the symbols table; nothing extra to do.
	return nil
}

func ftsDelete(_ context.Context, _ *sql.Tx, _ models.DocumentID) {}

// SearchSymbols returns symbols whose name starts with query (fallback when
// FTS5 is not compiled in).
func (db *DB) SearchSymbols(ctx context.Context, query string, limit int) ([]SymbolRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT document, kind, name, container, line, character
		FROM symbols
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY name, document, line
		LIMIT ?
	`, escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("index: search symbols: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}
