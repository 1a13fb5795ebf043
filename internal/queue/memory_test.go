package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/errors"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	defer q.Close()

	a, b := types.HashOf("a"), types.HashOf("b")
	require.NoError(t, q.Publish(ctx, a))
	require.NoError(t, q.Publish(ctx, b))
	assert.Equal(t, 2, q.Depth())

	got, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, got)
	assert.Zero(t, q.Depth())
}

func TestMemoryQueueFull(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)
	defer q.Close()

	require.NoError(t, q.Publish(ctx, types.HashOf("a")))
	err := q.Publish(ctx, types.HashOf("b"))
	assert.True(t, errors.IsQueueError(err, errors.QueueErrFull))
}

func TestMemoryQueueConsumeHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueCloseDrains(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)
	h := types.HashOf("left over")
	require.NoError(t, q.Publish(ctx, h))
	require.NoError(t, q.Close())

	got, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = q.Consume(ctx)
	assert.True(t, errors.IsQueueError(err, errors.QueueErrClosed))
	assert.True(t, errors.IsQueueError(q.Publish(ctx, h), errors.QueueErrClosed))
	assert.Error(t, q.Ping(ctx))
}

func TestMemoryQueueAnnounce(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)
	events := q.Subscribe(1)

	rec := &transaction.Record{Hash: types.HashOf("done"), Outcome: types.OutcomeExecuted}
	require.NoError(t, q.Announce(ctx, rec))
	// Second record is dropped, the subscriber buffer is full.
	require.NoError(t, q.Announce(ctx, rec))

	assert.Equal(t, rec, <-events)
	require.NoError(t, q.Close())
	_, open := <-events
	assert.False(t, open)
}

func TestOpenDefaultsToMemory(t *testing.T) {
	q, err := Open(config.Default(), nil)
	require.NoError(t, err)
	defer q.Close()
	assert.IsType(t, &MemoryQueue{}, q)
}
