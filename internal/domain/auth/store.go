// internal/domain/auth/store.go
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

type RedisSessionStore struct {
	redis *redis.Client
}

func NewSessionStore(redis *redis.Client) SessionStore {
	return &RedisSessionStore{
		redis: redis,
	}
}

func (s *RedisSessionStore) CreateSession(ctx context.Context, session AppSession, duration time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.redis.Set(ctx, sessionKeyPrefix+session.ID, payload, duration).Err()
}

// GetSession returns nil, nil for unknown or expired sessions.
func (s *RedisSessionStore) GetSession(ctx context.Context, sessionID string) (*AppSession, error) {
	raw, err := s.redis.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session AppSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, sessionKeyPrefix+sessionID).Err()
}
