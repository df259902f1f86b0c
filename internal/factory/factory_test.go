package factory

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/local-sync/internal/config"
	"github.com/matchops/local-sync/internal/engine"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	engine.ResetEngine()
	t.Cleanup(engine.ResetEngine)
	cfg := config.Config{DataDir: t.TempDir()}
	return New(cfg, testLogger())
}

func TestFactory_GetWrapperBuildsOnce(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)

	w1, err := f.GetWrapper(ctx, "alice", ModeOffline)
	require.NoError(t, err)
	w2, err := f.GetWrapper(ctx, "alice", ModeOffline)
	require.NoError(t, err)

	assert.Same(t, w1, w2)
	require.NoError(t, f.Reset(ctx))
}

func TestFactory_ConcurrentFirstCallsShareOneBuild(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)

	const n = 8
	results := make([]*struct {
		w   interface{}
		err error
	}, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		results[i] = &struct {
			w   interface{}
			err error
		}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := f.GetWrapper(ctx, "bob", ModeOffline)
			results[i].w = w
			results[i].err = err
		}()
	}
	wg.Wait()

	first := results[0].w
	for _, r := range results {
		require.NoError(t, r.err)
		assert.Same(t, first, r.w)
	}
	require.NoError(t, f.Reset(ctx))
}

func TestFactory_ModeChangeTearsDownPrevious(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)

	w1, err := f.GetWrapper(ctx, "carol", ModeOffline)
	require.NoError(t, err)

	w2, err := f.GetWrapper(ctx, "carol", ModeS3)
	require.NoError(t, err)

	assert.NotSame(t, w1, w2)
	assert.False(t, w1.IsAvailable())
	require.NoError(t, f.Reset(ctx))
}

func TestFactory_ResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)

	_, err := f.GetWrapper(ctx, "dave", ModeOffline)
	require.NoError(t, err)

	require.NoError(t, f.Reset(ctx))
	require.NoError(t, f.Reset(ctx))
}

func TestFactory_RejectsInvalidUserID(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)

	_, err := f.GetWrapper(ctx, "../etc", ModeOffline)
	require.Error(t, err)
}
