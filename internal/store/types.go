package store

import (
	"context"
	"errors"

	"github.com/ent0n29/storyquest/internal/session"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrTurnConflict is returned when a turn is not the direct successor of the stored turn counter.
	ErrTurnConflict = errors.New("turn conflict")
)

// Store persists sessions and their turns. CreateSession and AppendTurn are
// atomic: the session row and the turn row are written together or not at all.
// Updates never flip a stored inactive session back to active.
type Store interface {
	CreateSession(ctx context.Context, s session.Session, first session.Turn) error
	LoadSession(ctx context.Context, id string) (session.Session, error)
	UpdateSession(ctx context.Context, s session.Session) error
	AppendTurn(ctx context.Context, s session.Session, t session.Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]session.Turn, error)
	Ping(ctx context.Context) error
	Close() error
}

func checkFirstTurn(s session.Session, first session.Turn) error {
	if first.Number != 0 || s.Turn != 0 || first.SessionID != s.ID {
		return ErrTurnConflict
	}
	return nil
}

func checkNextTurn(s session.Session, t session.Turn) error {
	if t.Number < 1 || s.Turn != t.Number || t.SessionID != s.ID {
		return ErrTurnConflict
	}
	return nil
}
