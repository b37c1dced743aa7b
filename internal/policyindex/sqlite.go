package policyindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"whistle-agent/internal/domain"
)

const schemaFTS = `CREATE VIRTUAL TABLE IF NOT EXISTS passages USING fts5(
	doc_id UNINDEXED,
	section UNINDEXED,
	text,
	tokenize = 'unicode61'
)`

// SQLite is a policy index stored in an SQLite FTS5 table and ranked by bm25.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the index database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("policyindex: sqlite path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("policyindex: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("policyindex: open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaFTS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("policyindex: create fts table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Build replaces the index content with passages in one transaction.
func (s *SQLite) Build(ctx context.Context, passages []domain.PolicyPassage) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("policyindex: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM passages`); err != nil {
		return fmt.Errorf("policyindex: clear passages: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO passages (doc_id, section, text) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("policyindex: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range passages {
		if _, err = stmt.ExecContext(ctx, p.DocID, p.Section, p.Text); err != nil {
			return fmt.Errorf("policyindex: insert %s/%s: %w", p.DocID, p.Section, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("policyindex: commit: %w", err)
	}
	return nil
}

// Count returns the number of stored passages.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("policyindex: count: %w", err)
	}
	return n, nil
}

// Search runs a full-text query. Scores are negated bm25 ranks, so higher is
// more relevant.
func (s *SQLite) Search(ctx context.Context, query string, k int, docID string) ([]domain.PolicyPassage, error) {
	match := matchExpr(query)
	if match == "" || k <= 0 {
		return nil, nil
	}

	q := `SELECT doc_id, section, text, bm25(passages) FROM passages WHERE passages MATCH ?`
	args := []any{match}
	if docID != "" {
		q += ` AND doc_id = ?`
		args = append(args, docID)
	}
	q += ` ORDER BY bm25(passages) LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("policyindex: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PolicyPassage
	for rows.Next() {
		var (
			p    domain.PolicyPassage
			rank float64
		)
		if err := rows.Scan(&p.DocID, &p.Section, &p.Text, &rank); err != nil {
			return nil, fmt.Errorf("policyindex: scan: %w", err)
		}
		p.Score = -rank
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policyindex: rows: %w", err)
	}
	return out, nil
}

// All returns every stored passage in insertion order.
func (s *SQLite) All(ctx context.Context) ([]domain.PolicyPassage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id, section, text FROM passages ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("policyindex: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PolicyPassage
	for rows.Next() {
		var p domain.PolicyPassage
		if err := rows.Scan(&p.DocID, &p.Section, &p.Text); err != nil {
			return nil, fmt.Errorf("policyindex: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// matchExpr turns free text into an FTS5 OR query of prefix terms. Words of
// three or more runes also match with their last rune dropped, so a Korean
// noun followed by a particle still finds the bare noun.
func matchExpr(query string) string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{})
	var terms []string
	add := func(w string) {
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		terms = append(terms, `"`+w+`"*`)
	}
	for _, w := range words {
		add(w)
		if rs := []rune(w); len(rs) >= 3 {
			add(string(rs[:len(rs)-1]))
		}
	}
	return strings.Join(terms, " OR ")
}
