package bootstrap

import (
	"context"
	"fmt"

	"courier/internal/config"
	"courier/internal/logger"
	"courier/internal/queue"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger
	Queue  queue.Queue
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitQueue builds the configured queue backend and wraps its enqueue path
// in a circuit breaker. A backend fault here is fatal to broker start.
func (b *Base) InitQueue(ctx context.Context) error {
	q, err := queue.New(ctx, b.Config, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create queue backend: %w", err)
	}

	b.Queue = queue.WithBreaker(q)
	return nil
}

func (b *Base) ShutdownQueue() []error {
	var errs []error

	if b.Queue != nil {
		if err := b.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Infof("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownQueue()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Infof("Application exited successfully")
	return nil
}
