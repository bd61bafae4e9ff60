package queue

import (
	"context"
	"sync"
	"time"

	"courier/internal/logger"
	"courier/pkg/errors"
	"courier/pkg/models"
)

const memoryQueueDepth = 1024

// MemoryQueue is the in-process backend used by tests and single-node dev
// runs. Nothing survives a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]chan models.Envelope
	wg     sync.WaitGroup
	closed bool
	logger logger.Logger
}

func NewMemoryQueue(log logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		queues: make(map[string]chan models.Envelope),
		logger: log,
	}
}

func (q *MemoryQueue) channel(name string) chan models.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan models.Envelope, memoryQueueDepth)
		q.queues[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Enqueue(ctx context.Context, name string, env models.Envelope, opts EnqueueOptions) error {
	ch := q.channel(name)

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- env:
			default:
				q.logger.Warnw("memory queue full, delayed message dropped",
					"queue", name,
					"message_id", env.ID,
				)
			}
		})
		return nil
	}

	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Subscribe(ctx context.Context, name string, handler Handler, parallelism int) error {
	ch := q.channel(name)

	for i := 0; i < parallelism; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-ch:
					q.process(ctx, name, env, handler)
				}
			}
		}()
	}

	return nil
}

func (q *MemoryQueue) process(ctx context.Context, name string, env models.Envelope, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("panic in queue handler",
				"queue", name,
				"message_id", env.ID,
				"error", errors.RecoverPanic(r),
			)
		}
	}()

	if err := handler(ctx, env); err != nil {
		q.logger.Warnw("queue handler fault",
			"queue", name,
			"message_id", env.ID,
			"error", err,
		)
	}
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
