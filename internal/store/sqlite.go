package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/storyquest/internal/session"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore persists sessions and turns in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path, which may be a plain file path, a file: URI or ":memory:".
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS story_sessions (
			id TEXT PRIMARY KEY,
			player_name TEXT NOT NULL,
			age_range TEXT NOT NULL,
			theme TEXT NOT NULL,
			turns INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS story_turns (
			session_id TEXT NOT NULL REFERENCES story_sessions(id) ON DELETE CASCADE,
			turn_number INTEGER NOT NULL,
			scene_id TEXT NOT NULL,
			scene_text TEXT NOT NULL,
			player_choice TEXT NOT NULL DEFAULT '',
			custom_input TEXT NOT NULL DEFAULT '',
			story_summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, turn_number)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess session.Session, first session.Turn) error {
	if err := checkFirstTurn(sess, first); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO story_sessions (id, player_name, age_range, theme, turns, is_active, created_at, last_activity)
		 VALUES (?,?,?,?,?,?,?,?)`,
		sess.ID, sess.PlayerName, sess.AgeRange, sess.Theme, sess.Turn, sess.Active, sess.CreatedAt, sess.LastActivityAt,
	)
	if err != nil {
		return sqliteWriteError("insert session", err)
	}
	if err := insertSQLiteTurn(ctx, tx, first); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (session.Session, error) {
	var out session.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, player_name, age_range, theme, turns, is_active, created_at, last_activity
		 FROM story_sessions WHERE id=?`, id,
	).Scan(&out.ID, &out.PlayerName, &out.AgeRange, &out.Theme, &out.Turn, &out.Active, &out.CreatedAt, &out.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.LastActivityAt = out.LastActivityAt.UTC()
	return out, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess session.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE story_sessions SET turns=?, is_active=(is_active AND ?), last_activity=? WHERE id=?`,
		sess.Turn, sess.Active, sess.LastActivityAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, sess session.Session, t session.Turn) error {
	if err := checkNextTurn(sess, t); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE story_sessions SET turns=?, is_active=(is_active AND ?), last_activity=? WHERE id=? AND turns=?`,
		sess.Turn, sess.Active, sess.LastActivityAt, sess.ID, t.Number-1,
	)
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	if n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM story_sessions WHERE id=?`, sess.ID).Scan(&count); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrTurnConflict
	}
	if err := insertSQLiteTurn(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertSQLiteTurn(ctx context.Context, tx *sql.Tx, t session.Turn) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO story_turns (session_id, turn_number, scene_id, scene_text, player_choice, custom_input, story_summary, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		t.SessionID, t.Number, t.SceneID, t.SceneText, t.ChoiceID, t.CustomInput, t.Summary, t.CreatedAt,
	)
	if err != nil {
		return sqliteWriteError("insert turn", err)
	}
	return nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]session.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_number, scene_id, scene_text, player_choice, custom_input, story_summary, created_at
		 FROM story_turns WHERE session_id=? ORDER BY turn_number ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []session.Turn
	for rows.Next() {
		var t session.Turn
		if err := rows.Scan(&t.SessionID, &t.Number, &t.SceneID, &t.SceneText, &t.ChoiceID, &t.CustomInput, &t.Summary, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteWriteError(op string, err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint {
		return ErrTurnConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}
