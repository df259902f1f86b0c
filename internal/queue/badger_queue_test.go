package queue

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/local-sync/internal/entity"
)

func newTestBadgerQueue(t *testing.T) *BadgerQueue {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	q, err := OpenBadgerQueue(t.TempDir(), "testuser", logger)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestBadgerQueue_EnqueueAndDispatch(t *testing.T) {
	ctx := context.Background()
	q := newTestBadgerQueue(t)

	_, err := q.Enqueue(ctx, entity.Operation{Kind: entity.KindPlayer, ID: "p1", Op: entity.OpCreate, Payload: "v1"})
	require.NoError(t, err)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	e, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", e.Op.Payload)

	require.NoError(t, q.MarkDispatched(ctx, e.ID))
	require.NoError(t, q.Remove(ctx, e.ID))

	stats, err = q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestBadgerQueue_DedupCoalescesPersistedUpdates(t *testing.T) {
	ctx := context.Background()
	q := newTestBadgerQueue(t)

	_, err := q.Enqueue(ctx, entity.Operation{Kind: entity.KindTeam, ID: "t1", Op: entity.OpUpdate, Payload: "v1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, entity.Operation{Kind: entity.KindTeam, ID: "t1", Op: entity.OpUpdate, Payload: "v2"})
	require.NoError(t, err)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	e, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", e.Op.Payload)
}

func TestBadgerQueue_MarkFailedMovesToFailedShelf(t *testing.T) {
	ctx := context.Background()
	q := newTestBadgerQueue(t)

	_, err := q.Enqueue(ctx, entity.Operation{Kind: entity.KindGame, ID: "g1", Op: entity.OpCreate})
	require.NoError(t, err)
	e, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.MarkDispatched(ctx, e.ID))
	require.NoError(t, q.MarkFailed(ctx, e.ID, "permanent"))

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestBadgerQueue_Clear(t *testing.T) {
	ctx := context.Background()
	q := newTestBadgerQueue(t)

	_, err := q.Enqueue(ctx, entity.Operation{Kind: entity.KindPlayer, ID: "p2", Op: entity.OpCreate})
	require.NoError(t, err)
	require.NoError(t, q.Clear(ctx))

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
}
