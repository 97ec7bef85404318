package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kenichiro-kimura/thoughtlog/internal/config"
)

func NewRedisClient(cfg config.QueueConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Ping verifies the connection before the queue starts depending on it.
func Ping(ctx context.Context, c *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}
