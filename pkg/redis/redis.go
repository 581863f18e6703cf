package redis

import (
	"context"
	"fmt"
	"time"

	"merchant-voucher/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const (
	pingAttempts = 5
	pingBackoff  = 3 * time.Second
)

func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	redsFields := []zap.Field{
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
		zap.Duration("pool_timeout", c.Redis.PoolTimeout),
	}

	zapLog := zap.L().With(redsFields...)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	if err := waitReady(context.Background(), rdb, pingAttempts, pingBackoff); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	zapLog.Info("[Redis] Connected to Redis")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb, nil
}

func waitReady(ctx context.Context, rdb *redis.Client, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}

		zap.L().Warn("[Redis] Redis not ready, retrying...", zap.Int("retry", i+1), zap.Error(err))
		time.Sleep(backoff)
	}
	return fmt.Errorf("redis not reachable after %d attempts: %w", attempts, err)
}
