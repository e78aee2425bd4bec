// Package store archives room metadata. Stores are best effort: the
// orchestrator logs their failures and keeps going.
package store

import (
	"context"
	"fmt"

	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/rs/zerolog/log"
)

// Open builds the store named by cfg.Driver. A nil store means archiving
// is disabled. The returned close func is never nil.
func Open(ctx context.Context, cfg config.StoreConfig) (core.RoomStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "", config.StoreNone:
		log.Info().Str("module", "store").Msg("room archive disabled")
		return nil, noop, nil
	case config.StoreRedis:
		client := NewRedisClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Info().Str("module", "store").Str("addr", cfg.Redis.Addr).Msg("redis room archive ready")
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), client.Close, nil
	case config.StorePostgres:
		db, err := NewPostgresDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, noop, err
		}
		s := NewPostgresStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		log.Info().Str("module", "store").Msg("postgres room archive ready")
		return s, db.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
