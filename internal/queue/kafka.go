package queue

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/pkg/errors"
	"courier/pkg/models"
)

const notBeforeHeader = "not-before"

// KafkaQueue maps each named queue onto a topic. Kafka has no native delayed
// visibility, so delay rides in a not-before header that consumers honor by
// waiting before invoking the handler.
type KafkaQueue struct {
	cfg    config.KafkaConfig
	writer *kafka.Writer
	logger logger.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
}

func NewKafkaQueue(cfg config.KafkaConfig, log logger.Logger) *KafkaQueue {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaQueue{cfg: cfg, writer: w, logger: log}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, name string, env models.Envelope, opts EnqueueOptions) error {
	data, err := models.Encode(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}

	msg := kafka.Message{
		Topic: name,
		Key:   []byte(env.ID),
		Value: data,
		Time:  time.Now(),
	}

	if opts.Delay > 0 {
		visibleAt := time.Now().Add(opts.Delay)
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   notBeforeHeader,
			Value: []byte(visibleAt.Format(time.RFC3339Nano)),
		})
	}

	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}
	return nil
}

func (q *KafkaQueue) Subscribe(ctx context.Context, name string, handler Handler, parallelism int) error {
	for i := 0; i < parallelism; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.cfg.Brokers,
			GroupID:  q.cfg.GroupID,
			Topic:    name,
			MinBytes: 1,
			MaxBytes: 10e6,
		})

		q.mu.Lock()
		q.readers = append(q.readers, reader)
		q.mu.Unlock()

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consume(ctx, reader, name, handler)
		}()
	}

	return nil
}

func (q *KafkaQueue) consume(ctx context.Context, reader *kafka.Reader, name string, handler Handler) {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Errorw("failed to fetch kafka message",
				"queue", name,
				"error", err,
			)
			time.Sleep(time.Second)
			continue
		}

		env, err := models.Decode(m.Value)
		if err != nil {
			q.logger.Errorw("failed to decode queued message",
				"queue", name,
				"error", err,
			)
			_ = reader.CommitMessages(ctx, m)
			continue
		}

		if !q.waitUntilVisible(ctx, m) {
			return
		}

		if err := q.process(ctx, name, env, handler); err != nil {
			q.logger.Warnw("queue handler fault",
				"queue", name,
				"message_id", env.ID,
				"error", err,
			)
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			q.logger.Errorw("failed to commit kafka message",
				"queue", name,
				"error", err,
			)
		}
	}
}

func (q *KafkaQueue) waitUntilVisible(ctx context.Context, m kafka.Message) bool {
	for _, h := range m.Headers {
		if h.Key != notBeforeHeader {
			continue
		}
		visibleAt, err := time.Parse(time.RFC3339Nano, string(h.Value))
		if err != nil {
			return true
		}
		wait := time.Until(visibleAt)
		if wait <= 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}
	return true
}

func (q *KafkaQueue) process(ctx context.Context, name string, env models.Envelope, handler Handler) (err error) {
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

func (q *KafkaQueue) Ping(ctx context.Context) error {
	if len(q.cfg.Brokers) == 0 {
		return errors.ErrQueue.WithMessage("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", q.cfg.Brokers[0])
	if err != nil {
		return errors.Wrap(err, errors.ErrQueue)
	}
	return conn.Close()
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	readers := q.readers
	q.mu.Unlock()

	var err error
	for _, r := range readers {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if closeErr := q.writer.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	q.wg.Wait()
	return err
}
