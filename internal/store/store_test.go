package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/storyquest/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func testStores(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewInMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), ":memory:")
			require.NoError(t, err)
			return s
		},
	}
	if url := os.Getenv("STORYQUEST_TEST_POSTGRES_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			require.NoError(t, err)
			return s
		}
	}
	if url := os.Getenv("STORYQUEST_TEST_REDIS_URL"); url != "" {
		out["redis"] = func(t *testing.T) Store {
			s, err := NewRedisStore(context.Background(), url)
			require.NoError(t, err)
			return s
		}
	}
	return out
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, s Store) session.Session {
	t.Helper()
	sess := session.New("Mia", "6-8", "space_adventure", testNow)
	first := session.Turn{
		SessionID: sess.ID,
		Number:    0,
		SceneID:   session.SceneID(sess.ID, 0),
		SceneText: "The rocket hums softly.",
		Summary:   "Mia boards a rocket.",
		CreatedAt: testNow,
	}
	require.NoError(t, s.CreateSession(context.Background(), sess, first))
	return sess
}

func nextTurn(sess session.Session, choice string) (session.Session, session.Turn) {
	sess.Turn++
	sess.LastActivityAt = sess.LastActivityAt.Add(time.Minute)
	return sess, session.Turn{
		SessionID: sess.ID,
		Number:    sess.Turn,
		SceneID:   session.SceneID(sess.ID, sess.Turn),
		SceneText: "A friendly comet waves.",
		ChoiceID:  choice,
		Summary:   "Mia meets a comet.",
		CreatedAt: sess.LastActivityAt,
	}
}

func TestCreateAndLoadSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := newTestSession(t, s)

		got, err := s.LoadSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
		assert.Equal(t, "Mia", got.PlayerName)
		assert.Equal(t, "6-8", got.AgeRange)
		assert.Equal(t, 0, got.Turn)
		assert.True(t, got.Active)
		assert.True(t, got.CreatedAt.Equal(testNow))

		turns, err := s.ListTurns(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, 0, turns[0].Number)
		assert.Empty(t, turns[0].ChoiceID)
		assert.Empty(t, turns[0].CustomInput)
	})
}

func TestLoadMissingSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.LoadSession(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAppendTurnsAreSequential(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := newTestSession(t, s)
		for i := 0; i < 4; i++ {
			var turn session.Turn
			sess, turn = nextTurn(sess, "choice_1")
			require.NoError(t, s.AppendTurn(ctx, sess, turn))
		}

		turns, err := s.ListTurns(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, turns, 5)
		for i, turn := range turns {
			assert.Equal(t, i, turn.Number)
		}
		got, err := s.LoadSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Turn)
	})
}

func TestAppendTurnRejectsGapsAndDuplicates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := newTestSession(t, s)

		advanced, turn := nextTurn(sess, "choice_2")
		require.NoError(t, s.AppendTurn(ctx, advanced, turn))

		// Replaying the same turn conflicts with the stored counter.
		assert.ErrorIs(t, s.AppendTurn(ctx, advanced, turn), ErrTurnConflict)

		skipped, gap := nextTurn(advanced, "choice_1")
		skipped, gap = nextTurn(skipped, "choice_1")
		assert.ErrorIs(t, s.AppendTurn(ctx, skipped, gap), ErrTurnConflict)

		turns, err := s.ListTurns(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, turns, 2)
	})
}

func TestAppendTurnUnknownSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		sess := session.New("Leo", "9-12", "robot_city", testNow)
		sess, turn := nextTurn(sess, "choice_1")
		assert.ErrorIs(t, s.AppendTurn(context.Background(), sess, turn), ErrNotFound)
	})
}

func TestCreateSessionRejectsNonZeroFirstTurn(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		sess := session.New("Leo", "9-12", "robot_city", testNow)
		bad := session.Turn{SessionID: sess.ID, Number: 1, CreatedAt: testNow}
		assert.ErrorIs(t, s.CreateSession(context.Background(), sess, bad), ErrTurnConflict)
		_, err := s.LoadSession(context.Background(), sess.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateSessionDeactivates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := newTestSession(t, s)
		sess.Active = false
		sess.LastActivityAt = testNow.Add(time.Hour)
		require.NoError(t, s.UpdateSession(ctx, sess))

		got, err := s.LoadSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.True(t, got.LastActivityAt.Equal(testNow.Add(time.Hour)))

		missing := session.New("Ana", "6-8", "castle_quest", testNow)
		assert.ErrorIs(t, s.UpdateSession(ctx, missing), ErrNotFound)
	})
}

func TestStaleWritesNeverReactivate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := newTestSession(t, s)
		stale := sess

		sess.Active = false
		require.NoError(t, s.UpdateSession(ctx, sess))

		advanced, turn := nextTurn(stale, "choice_1")
		require.NoError(t, s.AppendTurn(ctx, advanced, turn))
		require.NoError(t, s.UpdateSession(ctx, advanced))

		got, err := s.LoadSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.Equal(t, 1, got.Turn)
	})
}

func TestConcurrentAppendsOnlyOneWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := newTestSession(t, s)
		advanced, turn := nextTurn(sess, "choice_3")

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.AppendTurn(ctx, advanced, turn)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrTurnConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, 7, conflicts)
	})
}

func TestNewStoreSelectsByScheme(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)

	s, err = NewStore(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore(ctx, "mysql://user:secret@db/story")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestKindAndDescribe(t *testing.T) {
	assert.Equal(t, "memory", Kind(""))
	assert.Equal(t, "postgresql", Kind("postgres://u:p@h/db"))
	assert.Equal(t, "sqlite", Kind("file:story.db"))
	assert.Equal(t, "redis", Kind("redis://localhost:6379/0"))
	assert.Equal(t, "unknown", Kind("mongodb://x"))

	assert.Equal(t, "postgres://h:5432/db", Describe("postgres://u:p@h:5432/db"))
	assert.Equal(t, "file:story.db", Describe("file:story.db"))
}
