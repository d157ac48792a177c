package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/storyquest/internal/session"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "storyquest:"

// RedisStore keeps each session as a JSON value and its turns as a JSON list.
// Writes use WATCH/MULTI so concurrent appends to one session conflict cleanly.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func sessionKey(id string) string { return redisKeyPrefix + "session:" + id }
func turnsKey(id string) string   { return redisKeyPrefix + "turns:" + id }

func (s *RedisStore) CreateSession(ctx context.Context, sess session.Session, first session.Turn) error {
	if err := checkFirstTurn(sess, first); err != nil {
		return err
	}
	sessJSON, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	turnJSON, err := json.Marshal(first)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := sessionKey(sess.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrTurnConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, sessJSON, 0)
			pipe.Del(ctx, turnsKey(sess.ID))
			pipe.RPush(ctx, turnsKey(sess.ID), turnJSON)
			return nil
		})
		return err
	}, key)
	return redisWriteError("create session", err)
}

func (s *RedisStore) LoadSession(ctx context.Context, id string) (session.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	var out session.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return session.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return out, nil
}

func (s *RedisStore) UpdateSession(ctx context.Context, sess session.Session) error {
	key := sessionKey(sess.ID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := watchedSession(ctx, tx, key)
		if err != nil {
			return err
		}
		sess.Active = sess.Active && stored.Active
		sessJSON, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, sessJSON, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
	return redisWriteError("update session", err)
}

func (s *RedisStore) AppendTurn(ctx context.Context, sess session.Session, t session.Turn) error {
	if err := checkNextTurn(sess, t); err != nil {
		return err
	}
	turnJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := sessionKey(sess.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := watchedSession(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored.Turn != t.Number-1 {
			return ErrTurnConflict
		}
		sess.Active = sess.Active && stored.Active
		sessJSON, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, sessJSON, redis.KeepTTL)
			pipe.RPush(ctx, turnsKey(sess.ID), turnJSON)
			return nil
		})
		return err
	}, key)
	return redisWriteError("append turn", err)
}

func watchedSession(ctx context.Context, tx *redis.Tx, key string) (session.Session, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	var stored session.Session
	if err := json.Unmarshal(raw, &stored); err != nil {
		return session.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return stored, nil
}

func (s *RedisStore) ListTurns(ctx context.Context, sessionID string) ([]session.Turn, error) {
	items, err := s.client.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	out := make([]session.Turn, 0, len(items))
	for _, item := range items {
		var t session.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisWriteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrTurnConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTurnConflict):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
