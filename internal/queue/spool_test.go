package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/logger"
	"courier/pkg/models"
)

func TestSpoolQueueDelivers(t *testing.T) {
	q, err := NewSpoolQueue(t.TempDir(), logger.NopLogger())
	require.NoError(t, err)
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
	}, 3*time.Second, 25*time.Millisecond)
}

func TestSpoolQueueDelayedVisibility(t *testing.T) {
	q, err := NewSpoolQueue(t.TempDir(), logger.NopLogger())
	require.NoError(t, err)
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
	require.NoError(t, q.Enqueue(ctx, "redeliver", testEnvelope(), EnqueueOptions{Delay: 500 * time.Millisecond}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !deliveredAt.IsZero()
	}, 5*time.Second, 25*time.Millisecond)

	mu.Lock()
	elapsed := deliveredAt.Sub(start)
	mu.Unlock()
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestSpoolQueueSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := NewSpoolQueue(dir, logger.NopLogger())
	require.NoError(t, err)

	env := testEnvelope()
	require.NoError(t, first.Enqueue(context.Background(), "accept", env, EnqueueOptions{}))
	require.NoError(t, first.Close())

	entries, err := os.ReadDir(filepath.Join(dir, "accept"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A fresh instance over the same spool picks the entry up.
	second, err := NewSpoolQueue(dir, logger.NopLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		second.Close()
	}()

	var mu sync.Mutex
	var got string
	require.NoError(t, second.Subscribe(ctx, "accept", func(ctx context.Context, env models.Envelope) error {
		mu.Lock()
		got = env.ID
		mu.Unlock()
		return nil
	}, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == env.ID
	}, 3*time.Second, 25*time.Millisecond)
}

func TestSpoolQueueRemovesAcknowledgedEntries(t *testing.T) {
	dir := t.TempDir()
	q, err := NewSpoolQueue(dir, logger.NopLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Close()
	}()

	done := make(chan struct{})
	require.NoError(t, q.Subscribe(ctx, "accept", func(ctx context.Context, env models.Envelope) error {
		close(done)
		return nil
	}, 1))

	require.NoError(t, q.Enqueue(ctx, "accept", testEnvelope(), EnqueueOptions{}))
	<-done

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(filepath.Join(dir, "accept"))
		return err == nil && len(entries) == 0
	}, 3*time.Second, 25*time.Millisecond)
}
