package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/PabloGalante/insurance-agent/internal/adapters/sqlitedb"
	"github.com/PabloGalante/insurance-agent/internal/domain"
)

// SQLiteRetriever ranks passages with the FTS5 bm25 function.
type SQLiteRetriever struct {
	db *sql.DB
}

// OpenSQLite opens the knowledge database at path, migrating it if needed.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRetriever, error) {
	db, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteRetriever(db), nil
}

func NewSQLiteRetriever(db *sql.DB) *SQLiteRetriever {
	return &SQLiteRetriever{db: db}
}

func (r *SQLiteRetriever) Close() error {
	return r.db.Close()
}

// AddPassage indexes one passage.
func (r *SQLiteRetriever) AddPassage(ctx context.Context, p domain.Passage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO passages (title, body, source) VALUES (?, ?, ?)`,
		p.Title, p.Text, p.Source)
	if err != nil {
		return fmt.Errorf("indexing passage %q: %w", p.Title, err)
	}
	return nil
}

// SeedIfEmpty indexes passages only when the index holds none yet and reports
// how many it added.
func (r *SQLiteRetriever) SeedIfEmpty(ctx context.Context, passages []domain.Passage) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	for _, p := range passages {
		if err := r.AddPassage(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(passages), nil
}

// Search implements domain.Retriever.
func (r *SQLiteRetriever) Search(ctx context.Context, query string, topK int) ([]domain.Passage, error) {
	match := matchExpr(query)
	if match == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT title, body, source, bm25(passages)
		FROM passages
		WHERE passages MATCH ?
		ORDER BY bm25(passages)
		LIMIT ?`, match, topK)
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}
	defer rows.Close()

	var out []domain.Passage
	for rows.Next() {
		var (
			p    domain.Passage
			rank float64
		)
		if err := rows.Scan(&p.Title, &p.Text, &p.Source, &rank); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		// bm25 is lower-is-better and negative
		p.Score = -rank
		out = append(out, p)
	}
	return out, rows.Err()
}

// matchExpr turns free text into an FTS5 OR query of quoted terms, so user
// punctuation never reaches the FTS5 parser.
func matchExpr(query string) string {
	qt := terms(query)
	if len(qt) == 0 {
		return ""
	}
	quoted := make([]string, len(qt))
	for i, t := range qt {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
