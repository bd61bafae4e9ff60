package broker

import (
	"context"
	"time"

	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/inventory"
	"courier/internal/logger"
	"courier/internal/queue"
	"courier/pkg/logging"
	"courier/pkg/metrics"
	"courier/pkg/models"
)

// Broker routes envelopes between authenticated endpoint sessions. All of
// its moving parts (registry, inventory, executor, queue subscriptions) are
// owned by this value; nothing is process-global.
type Broker struct {
	cfg       config.BrokerConfig
	log       logger.Logger
	queue     queue.Queue
	registry  *Registry
	inventory *inventory.Inventory
	executor  *Executor
	scheme    string

	// brokerURI identifies this broker instance in logs; control responses
	// are sent as the scheme's canonical server URI.
	brokerURI string
	serverURI string

	now func() time.Time
}

func New(cfg config.BrokerConfig, q queue.Queue, brokerCommonName string, log logger.Logger) *Broker {
	inv := inventory.New()
	b := &Broker{
		cfg:       cfg,
		log:       log,
		queue:     q,
		inventory: inv,
		registry:  NewRegistry(inv, cfg.Scheme),
		scheme:    cfg.Scheme,
		brokerURI: models.BrokerURI(cfg.Scheme, brokerCommonName),
		serverURI: models.ServerURI(cfg.Scheme),
		now:       time.Now,
	}
	b.executor = NewExecutor(cfg.DeliveryConsumers, b.deliver, log)
	return b
}

// Registry exposes the connection registry to the transport layer.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// Inventory exposes the URI registry to the operational surface.
func (b *Broker) Inventory() *inventory.Inventory {
	return b.inventory
}

// Start launches the delivery executor and the queue consumers. Fatal only
// at bootstrap: a subscribe fault aborts broker start.
func (b *Broker) Start(ctx context.Context) error {
	b.executor.Start(ctx)

	if err := b.queue.Subscribe(ctx, constants.QueueAccept, b.acceptConsume, b.cfg.AcceptConsumers); err != nil {
		return err
	}

	if err := b.queue.Subscribe(ctx, constants.QueueRedeliver, b.redeliverConsume, b.cfg.DeliveryConsumers); err != nil {
		return err
	}

	b.log.Infow("broker started",
		"broker_uri", b.brokerURI,
		"accept_consumers", b.cfg.AcceptConsumers,
		"delivery_consumers", b.cfg.DeliveryConsumers,
	)
	return nil
}

// Shutdown closes every live session. Queue consumers and executor workers
// stop with the context passed to Start.
func (b *Broker) Shutdown() {
	b.registry.CloseAll()
	b.executor.Wait()
}

// Ingress is the single entry point for every message: frames read off a
// session, and broker-originated responses re-entering with a nil session.
func (b *Broker) Ingress(ctx context.Context, session Session, env models.Envelope) {
	ctx = logging.WithMessageID(ctx, env.ID)
	now := b.now()

	if env.Expired(now) {
		metrics.MessagesDroppedTotal.WithLabelValues(metrics.DropReasonExpired).Inc()
		b.log.WarnwCtx(ctx, "dropping expired message on ingress",
			"expires", env.Expires,
		)
		return
	}

	if err := models.ValidateEnvelope(&env); err != nil {
		metrics.MessagesDroppedTotal.WithLabelValues(metrics.DropReasonValidation).Inc()
		b.log.WarnwCtx(ctx, "dropping invalid message",
			"error", err,
		)
		return
	}

	if session != nil {
		st, ok := b.registry.State(session)
		if !ok {
			b.log.WarnwCtx(ctx, "message from unregistered session dropped")
			return
		}
		ctx = logging.WithCommonName(ctx, st.CommonName)

		if st.Status != StatusReady {
			if b.isLoginMessage(env) {
				b.handleLogin(ctx, session, env)
				return
			}
			metrics.MessagesDroppedTotal.WithLabelValues(metrics.DropReasonUnauthenticated).Inc()
			b.log.WarnwCtx(ctx, "dropping message from session that has not logged in",
				"message_type", env.MessageType,
			)
			return
		}

		// Senders do not get to spoof: the enqueued sender is always the
		// session's bound URI.
		env.Sender = st.URI
		ctx = logging.WithEndpoint(ctx, st.URI)
	}

	if models.IsServerTarget(env.Targets[0], b.scheme) {
		b.handleServerMessage(ctx, session, env)
		return
	}

	b.accept(ctx, env)
}

func (b *Broker) isLoginMessage(env models.Envelope) bool {
	return models.IsServerTarget(env.Targets[0], b.scheme) && env.MessageType == models.SchemaLogin
}

// closeSession tears down a session the broker decided to reject. Removal is
// idempotent with the transport's own teardown path.
func (b *Broker) closeSession(session Session) {
	_ = session.Close()
	b.registry.Remove(session)
}
