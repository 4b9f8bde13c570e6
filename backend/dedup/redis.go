package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultPingTimeout = 2 * time.Second

var ErrRedisConnect = errors.New("unable to connect to redis")

// RedisGuard implements Guard on top of a shared redis instance using
// SET NX with expiry.
type RedisGuard struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

func NewRedisGuard(addr string, logger *zerolog.Logger) (*RedisGuard, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(ErrRedisConnect, err)
	}

	return &RedisGuard{
		rdb:    rdb,
		logger: logger.With().Str("component", "dedup-redis").Logger(),
	}, nil
}

func (g *RedisGuard) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := g.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	if !created {
		g.logger.Debug().Str("key", key).Msg("replay suppressed")
	}
	return !created, nil
}

func (g *RedisGuard) Clear(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, key).Err()
}

func (g *RedisGuard) Close() error {
	return g.rdb.Close()
}
