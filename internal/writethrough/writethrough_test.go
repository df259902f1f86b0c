package writethrough

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/local-sync/internal/engine"
	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/executor"
	"github.com/matchops/local-sync/internal/localstore"
	"github.com/matchops/local-sync/internal/queue"
	"github.com/matchops/local-sync/internal/remotestore"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestLocal(t *testing.T) *localstore.BadgerStore {
	t.Helper()
	store, err := localstore.NewBadgerStore(localstore.BadgerOptions{
		DataDir:      t.TempDir(),
		DatabaseName: "writethrough-test",
		SyncWrites:   false,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
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

func newWrapper(t *testing.T) (*Wrapper, *remotestore.FakeStore) {
	t.Helper()
	engine.ResetEngine()
	t.Cleanup(engine.ResetEngine)

	local := newTestLocal(t)
	q := queue.NewMemoryQueue()
	remote := remotestore.NewFakeStore()

	w := New("user-1", local, q, testLogger())
	require.NoError(t, w.Initialize(context.Background()))
	w.SetRemoteStore(remote)
	w.SetExecutor(executor.New(remote))
	return w, remote
}

func TestWrapper_OfflineCreateThenReconnectDispatches(t *testing.T) {
	ctx := context.Background()
	w, remote := newWrapper(t)
	defer w.Close()

	w.GetSyncStatus()
	eng := w.eng
	eng.SetOnline(false)

	stored, err := w.Create(ctx, entity.KindPlayer, entity.Entity{ID: "p1", Payload: map[string]interface{}{"name": "Ann"}})
	require.NoError(t, err)
	assert.Equal(t, "p1", stored.ID)

	w.StartSync(ctx)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, remote.UpsertCalls(), 0)

	eng.SetOnline(true)
	waitFor(t, 2*time.Second, func() bool {
		_, ok := remote.Get(entity.KindPlayer, "p1")
		return ok
	})
}

func TestWrapper_UpsertThenDeleteCancelsBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	w, remote := newWrapper(t)
	defer w.Close()
	w.eng.SetOnline(false)

	_, err := w.Upsert(ctx, entity.KindTeam, entity.Entity{ID: "t1", Payload: map[string]interface{}{}})
	require.NoError(t, err)
	require.NoError(t, w.Delete(ctx, entity.KindTeam, "t1", ""))

	stats, err := w.q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)

	w.eng.SetOnline(true)
	w.StartSync(ctx)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, remote.UpsertCalls(), 0)
	assert.Len(t, remote.DeleteCalls(), 0)
}

func TestWrapper_SettingsNoOpSaveSkipsWriteAndEnqueue(t *testing.T) {
	ctx := context.Background()
	w, _ := newWrapper(t)
	defer w.Close()

	payload := map[string]interface{}{"theme": "dark"}
	_, err := w.Upsert(ctx, entity.KindSettings, entity.Entity{ID: "app", Payload: payload})
	require.NoError(t, err)

	statsAfterFirst, err := w.q.GetStats(ctx)
	require.NoError(t, err)

	second, err := w.Update(ctx, entity.KindSettings, entity.Entity{ID: "app", Payload: map[string]interface{}{"theme": "dark"}})
	require.NoError(t, err)
	assert.Equal(t, "app", second.ID)

	statsAfterSecond, err := w.q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, statsAfterFirst.Pending, statsAfterSecond.Pending)
}

func TestWrapper_EnqueueBeforeInitializeStillWritesLocally(t *testing.T) {
	ctx := context.Background()
	engine.ResetEngine()
	defer engine.ResetEngine()

	local := newTestLocal(t)
	q := queue.NewMemoryQueue()
	w := New("user-2", local, q, testLogger())
	// Deliberately skip Initialize.

	stored, err := w.Create(ctx, entity.KindPlayer, entity.Entity{ID: "p1", Payload: map[string]interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, "p1", stored.ID)

	fromLocal, err := local.Get(ctx, entity.KindPlayer, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", fromLocal.ID)

	// Enqueue was never attempted since the queue was never opened, so
	// GetStats against the un-initialized queue must not be relied upon;
	// instead assert no panic occurred and the local write is durable,
	// which is the only contract enqueue-before-initialize promises.
	_ = w.Close()
}

func TestWrapper_CloseYieldsFreshEngineForNextUser(t *testing.T) {
	ctx := context.Background()
	wa, _ := newWrapper(t)

	_, err := wa.q.Enqueue(ctx, entity.Operation{
		Kind: entity.KindPlayer, ID: "stale", Op: entity.OpCreate,
		Payload: entity.Entity{ID: "stale"},
	})
	require.NoError(t, err)
	engA := wa.eng
	require.NoError(t, wa.Close())

	localB := newTestLocal(t)
	qB := queue.NewMemoryQueue()
	wb := New("user-3", localB, qB, testLogger())
	require.NoError(t, wb.Initialize(ctx))
	defer wb.Close()

	assert.NotSame(t, engA, wb.eng)
	statsB, err := wb.q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), statsB.Pending)
}
