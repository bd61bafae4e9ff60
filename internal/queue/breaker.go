package queue

import (
	"context"

	"courier/pkg/circuitbreaker"
	"courier/pkg/errors"
	"courier/pkg/models"
)

// BreakerQueue guards the enqueue path with a circuit breaker so ingress
// workers fail fast when the backend is down instead of piling up on it.
// Subscribe-side consumers keep their own per-backend error handling.
type BreakerQueue struct {
	inner Queue
	cb    *circuitbreaker.Wrapper
}

func WithBreaker(inner Queue) *BreakerQueue {
	return &BreakerQueue{
		inner: inner,
		cb:    circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("queue-enqueue")),
	}
}

func (q *BreakerQueue) Enqueue(ctx context.Context, name string, env models.Envelope, opts EnqueueOptions) error {
	_, err := q.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, q.inner.Enqueue(ctx, name, env, opts)
	})
	if err != nil {
		if errors.Is(err, errors.ErrQueue) {
			return err
		}
		return errors.Wrap(err, errors.ErrQueue)
	}
	return nil
}

func (q *BreakerQueue) Subscribe(ctx context.Context, name string, handler Handler, parallelism int) error {
	return q.inner.Subscribe(ctx, name, handler, parallelism)
}

func (q *BreakerQueue) Ping(ctx context.Context) error {
	return q.inner.Ping(ctx)
}

func (q *BreakerQueue) Close() error {
	return q.inner.Close()
}
