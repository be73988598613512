package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/into-the-night/fin-breaker/internal/agent/core"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each conversation as a JSON string under
// conversation:<id>, refreshed to ttl on every save.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(id string) string { return fmt.Sprintf("conversation:%s", id) }

func (s *RedisStore) Load(ctx context.Context, id string) (*core.ConversationState, error) {
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	var st core.ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, state *core.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", state.ConversationID, err)
	}
	return s.client.Set(ctx, redisKey(state.ConversationID), raw, s.ttl).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
