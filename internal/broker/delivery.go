package broker

import (
	"context"
	"sync"

	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/queue"
	"courier/pkg/errors"
	"courier/pkg/logging"
	"courier/pkg/metrics"
	"courier/pkg/models"
)

// Executor is the fixed-size pool performing socket writes. Submission
// blocks when every worker is busy and the task buffer is full; that
// backpressure is the suspension point accept consumers park on.
type Executor struct {
	tasks   chan models.Envelope
	size    int
	deliver func(ctx context.Context, env models.Envelope)
	log     logger.Logger
	wg      sync.WaitGroup
}

func NewExecutor(size int, deliver func(ctx context.Context, env models.Envelope), log logger.Logger) *Executor {
	return &Executor{
		tasks:   make(chan models.Envelope, size*2),
		size:    size,
		deliver: deliver,
		log:     log,
	}
}

func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.size; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-e.tasks:
					e.run(ctx, env)
				}
			}
		}()
	}
}

func (e *Executor) run(ctx context.Context, env models.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			// Per-message faults stay inside the worker.
			e.log.Errorw("panic in delivery worker",
				"message_id", env.ID,
				"error", errors.RecoverPanic(r),
			)
		}
	}()
	e.deliver(ctx, env)
}

func (e *Executor) Submit(ctx context.Context, env models.Envelope) {
	select {
	case e.tasks <- env:
	case <-ctx.Done():
	}
}

func (e *Executor) Wait() {
	e.wg.Wait()
}

// deliver performs one delivery attempt for a single expanded copy.
func (b *Broker) deliver(ctx context.Context, env models.Envelope) {
	ctx = logging.WithEndpoint(logging.WithMessageID(ctx, env.ID), env.Target)

	// An expired message is never written to a destination.
	if env.Expired(b.now()) {
		metrics.MessagesDroppedTotal.WithLabelValues(metrics.DropReasonExpired).Inc()
		b.log.WarnwCtx(ctx, "dropping message that expired before delivery",
			"expires", env.Expires,
		)
		return
	}

	session, st, ok := b.registry.Lookup(env.Target)
	if !ok {
		b.deliveryFailure(ctx, env, errors.ErrNotConnected)
		return
	}

	env.AddHop(models.HopDeliver, b.now())
	data, err := models.Encode(env)
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		b.log.ErrorwCtx(ctx, "failed to encode message for delivery",
			"error", err,
		)
		return
	}

	if err := st.SerializeWrite(func() error { return session.Send(data) }); err != nil {
		metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		b.deliveryFailure(ctx, env, err)
		return
	}

	metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
	b.log.DebugwCtx(ctx, "message delivered")
}

// deliveryFailure drops an expired copy or schedules a retry. The delay
// halves the remaining TTL with a one second floor, deliberately aggressive
// near expiry.
func (b *Broker) deliveryFailure(ctx context.Context, env models.Envelope, cause error) {
	now := b.now()

	if !now.Before(env.Expires) {
		metrics.MessagesDroppedTotal.WithLabelValues(metrics.DropReasonExpired).Inc()
		b.log.WarnwCtx(ctx, "dropping undeliverable expired message",
			"cause", cause,
		)
		return
	}

	delay := env.Expires.Sub(now) / 2
	if delay < constants.RedeliveryFloor {
		delay = constants.RedeliveryFloor
	}

	env.AddHop(models.HopRedelivery, now)
	if err := b.queue.Enqueue(ctx, constants.QueueRedeliver, env, queue.EnqueueOptions{Delay: delay}); err != nil {
		b.log.ErrorwCtx(ctx, "failed to enqueue message for redelivery",
			"error", err,
			"cause", cause,
		)
		return
	}

	metrics.RedeliveriesTotal.Inc()
	b.log.InfowCtx(ctx, "delivery failed, scheduled redelivery",
		"cause", cause,
		"delay", delay,
	)
}
