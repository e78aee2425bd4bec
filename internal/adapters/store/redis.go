package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/go-redis/redis/v8"
)

const defaultKeyPrefix = "huddle:room:"

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisStore keeps one JSON value per room code. A zero ttl keeps records
// forever.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ core.RoomStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(code domain.RoomCode) string { return s.prefix + string(code) }

func (s *RedisStore) Upsert(ctx context.Context, rec core.RoomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", rec.Code, err)
	}
	if err := s.client.Set(ctx, s.key(rec.Code), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set room %s: %w", rec.Code, err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, code domain.RoomCode) (core.RoomRecord, error) {
	data, err := s.client.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.RoomRecord{}, core.ErrRecordNotFound
	}
	if err != nil {
		return core.RoomRecord{}, fmt.Errorf("redis get room %s: %w", code, err)
	}
	var rec core.RoomRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.RoomRecord{}, fmt.Errorf("unmarshal room %s: %w", code, err)
	}
	return rec, nil
}
