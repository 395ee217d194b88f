package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stellarlinkco/plusbot/internal/karma"

	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

// Change is one recorded score mutation.
type Change struct {
	Entity    string
	Delta     int
	Score     int
	CreatedAt time.Time
}

// SQLite is a durable ledger. Every mutation is also appended to score_events.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scores (
			entity TEXT PRIMARY KEY,
			score INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_rank ON scores(score DESC, entity ASC)`,
		`CREATE TABLE IF NOT EXISTS score_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity TEXT NOT NULL,
			delta INTEGER NOT NULL,
			score INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_score_events_entity ON score_events(entity, id)`,
		fmt.Sprintf(`PRAGMA user_version = %d`, sqliteSchemaVersion),
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, entity string) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx, `SELECT score FROM scores WHERE entity = ?`, entity).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get score: %w", err)
	}
	return score, nil
}

func (s *SQLite) Update(ctx context.Context, entity string, fn func(int) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT score FROM scores WHERE entity = ?`, entity).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("read score: %w", err)
	}

	next := fn(current)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scores (entity, score, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(entity) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at
	`, entity, next); err != nil {
		return 0, fmt.Errorf("write score: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO score_events (entity, delta, score) VALUES (?, ?, ?)
	`, entity, next-current, next); err != nil {
		return 0, fmt.Errorf("record score event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (s *SQLite) Top(ctx context.Context, n int) ([]karma.Standing, error) {
	if n <= 0 {
		n = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, score FROM scores
		ORDER BY score DESC, entity ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []karma.Standing
	for rows.Next() {
		var st karma.Standing
		if err := rows.Scan(&st.Entity, &st.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return out, nil
}

// History returns the most recent changes to entity, newest first.
func (s *SQLite) History(ctx context.Context, entity string, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity, delta, score, created_at FROM score_events
		WHERE entity = ?
		ORDER BY id DESC
		LIMIT ?
	`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			c       Change
			created string
		)
		if err := rows.Scan(&c.Entity, &c.Delta, &c.Score, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if t, err := time.Parse("2006-01-02T15:04:05.999Z", created); err == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}
