package queue

import (
	"context"
	"time"

	"courier/pkg/models"
)

// Handler processes one dequeued message. Acknowledgement is implicit on
// return without error; a fault leaves the message to the backend's
// at-least-once semantics.
type Handler func(ctx context.Context, env models.Envelope) error

type EnqueueOptions struct {
	// Delay keeps the message invisible to consumers until it elapses.
	Delay time.Duration
}

// Queue is a named durable queue backend with delayed visibility. Durability
// across broker restarts holds if and only if the backend persists.
type Queue interface {
	Enqueue(ctx context.Context, name string, env models.Envelope, opts EnqueueOptions) error

	// Subscribe spawns parallelism consumers for the named queue and
	// returns. Consumers stop when ctx is canceled; Close waits for them.
	Subscribe(ctx context.Context, name string, handler Handler, parallelism int) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
