package broker

import (
	"context"
	"time"

	"courier/internal/constants"
	"courier/internal/queue"
	"courier/pkg/logging"
	"courier/pkg/metrics"
	"courier/pkg/models"
)

// accept stages a routable message on the durable accept queue and returns.
// Expansion and delivery happen on the consumer side.
func (b *Broker) accept(ctx context.Context, env models.Envelope) {
	env.AddHop(models.HopAcceptToQueue, b.now())

	start := time.Now()
	if err := b.queue.Enqueue(ctx, constants.QueueAccept, env, queue.EnqueueOptions{}); err != nil {
		b.log.ErrorwCtx(ctx, "failed to enqueue message for acceptance",
			"error", err,
		)
		return
	}

	metrics.ObserveAcceptEnqueue(time.Since(start))
	metrics.MessagesAcceptedTotal.Inc()
}

// acceptConsume expands a staged message's targets against the inventory and
// fans one delivery copy per expanded target out to the executor.
func (b *Broker) acceptConsume(ctx context.Context, env models.Envelope) error {
	ctx = logging.WithMessageID(ctx, env.ID)

	if env.Expired(b.now()) {
		metrics.MessagesDroppedTotal.WithLabelValues(metrics.DropReasonExpired).Inc()
		b.log.WarnwCtx(ctx, "dropping message that expired while queued",
			"expires", env.Expires,
		)
		return nil
	}

	expanded := b.inventory.Find(env.Targets)

	if env.DestinationReport {
		b.sendDestinationReport(ctx, env, expanded)
	}

	for _, target := range expanded {
		b.executor.Submit(ctx, env.CopyForTarget(target))
	}

	return nil
}

// redeliverConsume resubmits a previously failed delivery copy. The target
// was chosen on the first pass; there is no re-expansion.
func (b *Broker) redeliverConsume(ctx context.Context, env models.Envelope) error {
	b.executor.Submit(logging.WithMessageID(ctx, env.ID), env)
	return nil
}

// sendDestinationReport tells the sender which URIs its targets expanded to.
// The report re-enters the ingress pipeline as a broker-originated message.
func (b *Broker) sendDestinationReport(ctx context.Context, env models.Envelope, expanded []string) {
	report, err := models.NewEnvelopeBuilder().
		WithSender(b.serverURI).
		WithTargets(env.Sender).
		WithMessageType(models.SchemaDestinationReport).
		WithExpires(b.now().Add(constants.ServerMessageTTL)).
		WithData(models.DestinationReport{ID: env.ID, Targets: expanded}).
		Build()
	if err != nil {
		b.log.ErrorwCtx(ctx, "failed to build destination report",
			"error", err,
		)
		return
	}

	b.Ingress(ctx, nil, report)
}
