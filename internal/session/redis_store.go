package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"authbus/internal/event"
)

const sessionKey = "auth:session:v2"

// Keys used by earlier storage formats; removed on every clear so a
// downgrade can never resurrect a stale session.
var legacySessionKeys = []string{"auth:session:v1", "auth_session"}

// RedisStore persists the session as a JSON record under a dedicated key.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore on the given client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Load(ctx context.Context) (*event.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess event.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *event.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// Let the record expire with the session itself when the expiry is known.
	var ttl time.Duration
	if sess != nil && sess.ExpiresAt > 0 {
		if remaining := time.Until(time.Unix(sess.ExpiresAt, 0)); remaining > 0 {
			ttl = remaining
		}
	}

	if err := s.rdb.Set(ctx, sessionKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys := append([]string{sessionKey}, legacySessionKeys...)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
