package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/logger"
	"courier/pkg/models"
)

func testEnvelope() models.Envelope {
	return models.Envelope{
		ID:          uuid.New().String(),
		Sender:      "cth://a/agent",
		Targets:     []string{"cth://b/agent"},
		MessageType: "http://courier.io/schemas/example",
		Expires:     time.Now().Add(time.Minute),
	}
}

func TestMemoryQueueDelivers(t *testing.T) {
	q := NewMemoryQueue(logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Close()
	}()

	var mu sync.Mutex
	var got []string
	require.NoError(t, q.Subscribe(ctx, "accept", func(ctx context.Context, env models.Envelope) error {
		mu.Lock()
		got = append(got, env.ID)
		mu.Unlock()
		return nil
	}, 2))

	env := testEnvelope()
	require.NoError(t, q.Enqueue(ctx, "accept", env, EnqueueOptions{}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == env.ID
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryQueueDelayedVisibility(t *testing.T) {
	q := NewMemoryQueue(logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Close()
	}()

	var mu sync.Mutex
	var deliveredAt time.Time
	require.NoError(t, q.Subscribe(ctx, "redeliver", func(ctx context.Context, env models.Envelope) error {
		mu.Lock()
		deliveredAt = time.Now()
		mu.Unlock()
		return nil
	}, 1))

	start := time.Now()
	require.NoError(t, q.Enqueue(ctx, "redeliver", testEnvelope(), EnqueueOptions{Delay: 200 * time.Millisecond}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !deliveredAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	elapsed := deliveredAt.Sub(start)
	mu.Unlock()
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestMemoryQueueSeparateQueues(t *testing.T) {
	q := NewMemoryQueue(logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Close()
	}()

	var acceptCount, redeliverCount int
	var mu sync.Mutex

	require.NoError(t, q.Subscribe(ctx, "accept", func(ctx context.Context, env models.Envelope) error {
		mu.Lock()
		acceptCount++
		mu.Unlock()
		return nil
	}, 1))
	require.NoError(t, q.Subscribe(ctx, "redeliver", func(ctx context.Context, env models.Envelope) error {
		mu.Lock()
		redeliverCount++
		mu.Unlock()
		return nil
	}, 1))

	require.NoError(t, q.Enqueue(ctx, "accept", testEnvelope(), EnqueueOptions{}))
	require.NoError(t, q.Enqueue(ctx, "accept", testEnvelope(), EnqueueOptions{}))
	require.NoError(t, q.Enqueue(ctx, "redeliver", testEnvelope(), EnqueueOptions{}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return acceptCount == 2 && redeliverCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryQueuePanicIsContained(t *testing.T) {
	q := NewMemoryQueue(logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Close()
	}()

	var mu sync.Mutex
	var delivered int
	require.NoError(t, q.Subscribe(ctx, "accept", func(ctx context.Context, env models.Envelope) error {
		mu.Lock()
		delivered++
		n := delivered
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		return nil
	}, 1))

	require.NoError(t, q.Enqueue(ctx, "accept", testEnvelope(), EnqueueOptions{}))
	require.NoError(t, q.Enqueue(ctx, "accept", testEnvelope(), EnqueueOptions{}))

	// The consumer survives the panic and keeps draining.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	}, time.Second, 10*time.Millisecond)
}
