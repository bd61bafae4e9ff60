package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/logger"
	"courier/pkg/errors"
	"courier/pkg/models"
)

const (
	redisKeyPrefix       = "courier:queue:"
	redisPromoteInterval = 250 * time.Millisecond
	redisPromoteBatch    = 128
	redisPopTimeout      = time.Second
)

// RedisQueue backs each named queue with a ready LIST plus a delayed ZSET
// scored by visibility time. A promoter loop moves due entries from the ZSET
// to the LIST; consumers block-pop the LIST.
type RedisQueue struct {
	client *redis.Client
	logger logger.Logger
	wg     sync.WaitGroup

	mu        sync.Mutex
	promoting map[string]bool
}

func NewRedisQueue(client *redis.Client, log logger.Logger) *RedisQueue {
	return &RedisQueue{
		client:    client,
		logger:    log,
		promoting: make(map[string]bool),
	}
}

func readyKey(name string) string   { return redisKeyPrefix + name }
func delayedKey(name string) string { return redisKeyPrefix + name + ":delayed" }

func (q *RedisQueue) Enqueue(ctx context.Context, name string, env models.Envelope, opts EnqueueOptions) error {
	data, err := models.Encode(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}

	if opts.Delay > 0 {
		visibleAt := time.Now().Add(opts.Delay)
		err = q.client.ZAdd(ctx, delayedKey(name), redis.Z{
			Score:  float64(visibleAt.UnixMilli()),
			Member: data,
		}).Err()
	} else {
		err = q.client.LPush(ctx, readyKey(name), data).Err()
	}

	if err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}
	return nil
}

func (q *RedisQueue) Subscribe(ctx context.Context, name string, handler Handler, parallelism int) error {
	q.startPromoter(ctx, name)

	for i := 0; i < parallelism; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consume(ctx, name, handler)
		}()
	}

	return nil
}

func (q *RedisQueue) startPromoter(ctx context.Context, name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.promoting[name] {
		return
	}
	q.promoting[name] = true

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(redisPromoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.promoteDue(ctx, name); err != nil && ctx.Err() == nil {
					q.logger.Errorw("failed to promote delayed messages",
						"queue", name,
						"error", err,
					)
				}
			}
		}
	}()
}

func (q *RedisQueue) promoteDue(ctx context.Context, name string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := q.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: redisPromoteBatch,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := q.client.ZRem(ctx, delayedKey(name), member).Result()
		if err != nil {
			return err
		}
		// Another broker instance may have claimed it first.
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey(name), member).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (q *RedisQueue) consume(ctx context.Context, name string, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.client.BRPop(ctx, redisPopTimeout, readyKey(name)).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			q.logger.Errorw("failed to pop from queue",
				"queue", name,
				"error", err,
			)
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		env, err := models.Decode([]byte(res[1]))
		if err != nil {
			q.logger.Errorw("failed to decode queued message",
				"queue", name,
				"error", err,
			)
			continue
		}

		if err := q.process(ctx, name, env, handler); err != nil {
			// Hand it back to the ready list; the broker's own redelivery
			// path is the real retry channel, this only covers faults.
			if pushErr := q.client.LPush(ctx, readyKey(name), res[1]).Err(); pushErr != nil {
				q.logger.Errorw("failed to requeue faulted message",
					"queue", name,
					"message_id", env.ID,
					"error", pushErr,
				)
			}
		}
	}
}

func (q *RedisQueue) process(ctx context.Context, name string, env models.Envelope, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			q.logger.Errorw("panic in queue handler",
				"queue", name,
				"message_id", env.ID,
				"error", err,
			)
		}
	}()
	return handler(ctx, env)
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	q.wg.Wait()
	return q.client.Close()
}

// Client exposes the underlying connection for health checks.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}
