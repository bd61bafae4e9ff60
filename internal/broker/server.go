package broker

import (
	"context"

	"courier/internal/constants"
	"courier/pkg/metrics"
	"courier/pkg/models"
)

// handleServerMessage dispatches messages addressed to the broker itself.
func (b *Broker) handleServerMessage(ctx context.Context, session Session, env models.Envelope) {
	switch env.MessageType {
	case models.SchemaLogin:
		b.handleLogin(ctx, session, env)
	case models.SchemaInventory:
		b.handleInventoryQuery(ctx, session, env)
	default:
		metrics.MessagesDroppedTotal.WithLabelValues(metrics.DropReasonUnknownType).Inc()
		b.log.WarnwCtx(ctx, "dropping server message of unknown type",
			"message_type", env.MessageType,
		)
	}
}

// handleLogin binds a session to the URI derived from its certificate common
// name and the declared type. A failed validation leaves the session in
// status connected so the peer may retry; a conflicting binding closes the
// session that made the conflicting attempt.
func (b *Broker) handleLogin(ctx context.Context, session Session, env models.Envelope) {
	if session == nil {
		b.log.WarnwCtx(ctx, "dropping broker-originated login message")
		return
	}

	req, err := models.DecodeLoginRequest(env.Data)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		b.log.WarnwCtx(ctx, "login message failed validation",
			"error", err,
		)
		return
	}

	result, uri := b.registry.Bind(session, req.Type)
	switch result {
	case BindBound:
		metrics.LoginsTotal.WithLabelValues("bound").Inc()
		b.log.InfowCtx(ctx, "session logged in",
			"uri", uri,
			"type", req.Type,
		)

	case BindAlreadyLoggedIn:
		metrics.LoginsTotal.WithLabelValues("already_logged_in").Inc()
		b.log.ErrorwCtx(ctx, "second login on a bound session, closing it",
			"existing_uri", uri,
			"requested_type", req.Type,
		)
		b.closeSession(session)

	case BindURITaken:
		metrics.LoginsTotal.WithLabelValues("uri_taken").Inc()
		b.log.ErrorwCtx(ctx, "login for a URI that is already bound, closing new session",
			"uri", uri,
		)
		b.closeSession(session)
	}
}

// handleInventoryQuery answers an inventory request with the URIs currently
// matching the query patterns. The response re-enters the ingress pipeline.
func (b *Broker) handleInventoryQuery(ctx context.Context, session Session, env models.Envelope) {
	if session == nil {
		b.log.WarnwCtx(ctx, "dropping broker-originated inventory query")
		return
	}

	req, err := models.DecodeInventoryRequest(env.Data)
	if err != nil {
		b.log.WarnwCtx(ctx, "inventory query failed validation",
			"error", err,
		)
		return
	}

	st, ok := b.registry.State(session)
	if !ok || st.Status != StatusReady {
		b.log.WarnwCtx(ctx, "dropping inventory query from unbound session")
		return
	}

	uris := b.inventory.Find(req.Query)

	resp, err := models.NewEnvelopeBuilder().
		WithSender(b.serverURI).
		WithTargets(st.URI).
		WithMessageType(models.SchemaInventoryResponse).
		WithExpires(b.now().Add(constants.ServerMessageTTL)).
		WithData(models.InventoryResponse{URIs: uris}).
		Build()
	if err != nil {
		b.log.ErrorwCtx(ctx, "failed to build inventory response",
			"error", err,
		)
		return
	}

	b.Ingress(ctx, nil, resp)
}
