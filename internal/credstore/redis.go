package credstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the credential record under a single key so that a save
// always replaces the whole triplet atomically.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "workbench:credentials"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context) (*Credentials, error) {
	if s.client == nil {
		return nil, ErrNotFound
	}
	raw, err := s.client.Get(ctx, s.key()).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	creds = creds.Normalized()
	return &creds, nil
}

func (s *RedisStore) Save(ctx context.Context, creds *Credentials) error {
	if s.client == nil {
		return nil
	}
	normalized := creds.Normalized()
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := s.client.Set(ctx, s.key(), raw, 0).Err(); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *RedisStore) key() string {
	return s.prefix + ":current"
}
