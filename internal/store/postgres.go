package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/storyquest/internal/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore persists sessions and turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS story_sessions (
			id TEXT PRIMARY KEY,
			player_name TEXT NOT NULL,
			age_range TEXT NOT NULL,
			theme TEXT NOT NULL,
			turns INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS story_turns (
			session_id TEXT NOT NULL REFERENCES story_sessions(id) ON DELETE CASCADE,
			turn_number INTEGER NOT NULL,
			scene_id TEXT NOT NULL,
			scene_text TEXT NOT NULL,
			player_choice TEXT NOT NULL DEFAULT '',
			custom_input TEXT NOT NULL DEFAULT '',
			story_summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, turn_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_story_sessions_last_activity ON story_sessions (last_activity);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init story schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess session.Session, first session.Turn) error {
	if err := checkFirstTurn(sess, first); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO story_sessions (id, player_name, age_range, theme, turns, is_active, created_at, last_activity)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.PlayerName, sess.AgeRange, sess.Theme, sess.Turn, sess.Active, sess.CreatedAt, sess.LastActivityAt,
	)
	if err != nil {
		return pgWriteError("insert session", err)
	}
	if err := insertPostgresTurn(ctx, tx, first); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSession(ctx context.Context, id string) (session.Session, error) {
	var out session.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, player_name, age_range, theme, turns, is_active, created_at, last_activity
		 FROM story_sessions WHERE id=$1`, id,
	).Scan(&out.ID, &out.PlayerName, &out.AgeRange, &out.Theme, &out.Turn, &out.Active, &out.CreatedAt, &out.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.LastActivityAt = out.LastActivityAt.UTC()
	return out, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess session.Session) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE story_sessions SET turns=$2, is_active=(is_active AND $3), last_activity=$4 WHERE id=$1`,
		sess.ID, sess.Turn, sess.Active, sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, sess session.Session, t session.Turn) error {
	if err := checkNextTurn(sess, t); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE story_sessions SET turns=$2, is_active=(is_active AND $3), last_activity=$4 WHERE id=$1 AND turns=$5`,
		sess.ID, sess.Turn, sess.Active, sess.LastActivityAt, t.Number-1,
	)
	if err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM story_sessions WHERE id=$1)`, sess.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrTurnConflict
	}
	if err := insertPostgresTurn(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertPostgresTurn(ctx context.Context, tx pgx.Tx, t session.Turn) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO story_turns (session_id, turn_number, scene_id, scene_text, player_choice, custom_input, story_summary, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.SessionID, t.Number, t.SceneID, t.SceneText, t.ChoiceID, t.CustomInput, t.Summary, t.CreatedAt,
	)
	if err != nil {
		return pgWriteError("insert turn", err)
	}
	return nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, sessionID string) ([]session.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, turn_number, scene_id, scene_text, player_choice, custom_input, story_summary, created_at
		 FROM story_turns WHERE session_id=$1 ORDER BY turn_number ASC`, sessionID,
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrTurnConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}
