package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"courier/internal/config"
	"courier/internal/logger"
	"courier/pkg/retry"
)

// New builds the configured queue backend. Backend faults here are fatal to
// broker start; transient connection errors are retried with backoff first.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (Queue, error) {
	switch cfg.Queue.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Queue.Redis.Host, cfg.Queue.Redis.Port),
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
		})
		err := retry.Retry(ctx, retry.DefaultPolicy(), func() error {
			return client.Ping(ctx).Err()
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisQueue(client, log), nil

	case "kafka":
		q := NewKafkaQueue(cfg.Queue.Kafka, log)
		err := retry.Retry(ctx, retry.DefaultPolicy(), func() error {
			return q.Ping(ctx)
		})
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("failed to connect to kafka: %w", err)
		}
		return q, nil

	case "spool":
		return NewSpoolQueue(cfg.Broker.Spool, log)

	case "memory":
		return NewMemoryQueue(log), nil

	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Queue.Type)
	}
}
