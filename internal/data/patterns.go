package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// patternRepo persists approval phrase patterns in SQLite so operator
// customizations survive restarts.
type patternRepo struct {
	db *sql.DB
}

// NewPatternRepo creates a pattern repository backed by the given DB path
func NewPatternRepo(dbPath string) (repo.PatternRepo, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS patterns (
			kind TEXT NOT NULL,
			pattern TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (kind, pattern)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &patternRepo{db: db}, nil
}

// List returns all patterns of a kind, oldest first
func (r *patternRepo) List(ctx context.Context, kind repo.PatternKind) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pattern FROM patterns WHERE kind = ? ORDER BY created_at
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// Add stores a pattern. Returns false when the pattern already exists.
func (r *patternRepo) Add(ctx context.Context, kind repo.PatternKind, pattern string) (bool, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false, fmt.Errorf("empty pattern")
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO patterns (kind, pattern, created_at) VALUES (?, ?, ?)
	`, string(kind), pattern, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to save pattern: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying database.
func (r *patternRepo) Close() error {
	return r.db.Close()
}
