package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/executor"
	"github.com/matchops/local-sync/internal/queue"
	"github.com/matchops/local-sync/internal/remotestore"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestEngine_InitialStateIsIdle(t *testing.T) {
	e := New(queue.NewMemoryQueue(), testLogger())
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_OfflineWriteThenReconnectDispatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewMemoryQueue()
	store := remotestore.NewFakeStore()
	e := New(q, testLogger())
	e.SetExecutor(executor.New(store))
	e.SetOnline(false)

	_, err := q.Enqueue(ctx, entity.Operation{
		Kind: entity.KindPlayer, ID: "p1", Op: entity.OpCreate,
		Payload: entity.Entity{Kind: entity.KindPlayer, ID: "p1"},
	})
	require.NoError(t, err)
	e.RefreshCounts(ctx)
	assert.Equal(t, int64(1), e.Status().PendingCount)

	e.Start(ctx)
	defer e.Stop()

	// No dispatch while offline.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, store.UpsertCalls(), 0)

	e.SetOnline(true)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.Get(entity.KindPlayer, "p1")
		return ok
	})
	waitFor(t, 2*time.Second, func() bool {
		return e.Status().PendingCount == 0
	})
	assert.False(t, e.Status().LastSyncedAt.IsZero())
}

func TestEngine_TransientFailureRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewMemoryQueue()
	store := remotestore.NewFakeStore()
	store.QueueError(remotestore.ErrOffline)
	store.QueueError(remotestore.ErrOffline)

	e := New(q, testLogger())
	e.SetBackoff(BackoffConfig{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, Jitter: 0})
	e.SetExecutor(executor.New(store))
	e.SetOnline(true)

	_, err := q.Enqueue(ctx, entity.Operation{
		Kind: entity.KindPlayer, ID: "p2", Op: entity.OpCreate,
		Payload: entity.Entity{Kind: entity.KindPlayer, ID: "p2"},
	})
	require.NoError(t, err)

	e.Start(ctx)
	defer e.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.Get(entity.KindPlayer, "p2")
		return ok
	})
	assert.Len(t, store.UpsertCalls(), 3)
	assert.Equal(t, int64(0), e.Status().FailedCount)
}

func TestEngine_PauseResume(t *testing.T) {
	q := queue.NewMemoryQueue()
	e := New(q, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	waitFor(t, time.Second, func() bool { return e.State() == StateRunning })

	e.Pause()
	assert.Equal(t, StatePaused, e.State())

	e.Resume()
	waitFor(t, time.Second, func() bool { return e.State() == StateRunning })
}

func TestEngine_NudgeCollapses(t *testing.T) {
	e := New(queue.NewMemoryQueue(), testLogger())
	e.Nudge()
	e.Nudge()
	e.Nudge()
	// Only one slot; the channel never blocks callers.
	select {
	case <-e.nudgeCh:
	default:
		t.Fatal("expected a pending nudge")
	}
	select {
	case <-e.nudgeCh:
		t.Fatal("extra nudges should have collapsed")
	default:
	}
}

func TestEngine_ListenerPanicDoesNotBlockOthers(t *testing.T) {
	e := New(queue.NewMemoryQueue(), testLogger())

	var secondCalled bool
	e.OnStatusChange(func(Status) { panic("boom") })
	e.OnStatusChange(func(Status) { secondCalled = true })

	e.broadcast()
	assert.True(t, secondCalled)
}

func TestResetEngine_YieldsFreshInstance(t *testing.T) {
	ResetEngine()
	qa := queue.NewMemoryQueue()
	a := GetEngine(qa, testLogger())
	ResetEngine()
	qb := queue.NewMemoryQueue()
	b := GetEngine(qb, testLogger())

	assert.NotSame(t, a, b)
	ResetEngine()
}
