// Package bulkpush implements the Bulk Pusher (B): a one-shot, out-of-band
// orchestrator that drains the Local Store directly to the Remote Store in
// dependency order, with foreign-key orphan repair and chunked parallel
// retry, bypassing the Sync Queue entirely.
package bulkpush

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/engine"
	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/localstore"
	"github.com/matchops/local-sync/internal/metrics"
	"github.com/matchops/local-sync/internal/queue"
	"github.com/matchops/local-sync/internal/remotestore"
)

// ChunkSize is the default parallel-dispatch group size (spec.md §4.5).
const ChunkSize = 10

// RetryConfig tunes the per-entity retry-with-backoff wrapping each
// individual remote call.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultRetry matches the engine's conservative backoff defaults, scaled
// down since bulk push is a synchronous, user-awaited operation.
var DefaultRetry = RetryConfig{MaxAttempts: 3, Base: 200 * time.Millisecond, Cap: 2 * time.Second}

// PreconditionError marks an invariant violated at call time (spec.md §7).
type PreconditionError struct{ Reason string }

func (e *PreconditionError) Error() string { return "precondition error: " + e.Reason }

// Summary is the return value of Run: per-kind success counts, per-kind
// lists of failed IDs, and the list of human-readable orphan-repair
// warnings.
type Summary struct {
	RunID      string
	Succeeded  map[entity.Kind]int
	Failed     map[entity.Kind][]string
	Warnings   []string
}

// Deps bundles the collaborators Run needs: the Local Store to read from,
// the Remote Store to push to, the Engine to pause/resume around the
// push, and the Queue to clear before pushing (any stragglers would race
// with the push).
type Deps struct {
	Local   localstore.Store
	Remote  remotestore.Store
	Engine  *engine.Engine
	Queue   queue.Queue
	Logger  *logrus.Logger
	Metrics metrics.Manager
	Chunk   int
	Retry   RetryConfig
}

// Run executes the full bulk-push algorithm of spec.md §4.5.
func Run(ctx context.Context, d Deps) (Summary, error) {
	if d.Remote == nil {
		return Summary{}, &PreconditionError{Reason: "remote store not set"}
	}
	if d.Chunk <= 0 {
		d.Chunk = ChunkSize
	}
	if d.Retry.MaxAttempts <= 0 {
		d.Retry = DefaultRetry
	}
	logger := d.Logger
	if logger == nil {
		logger = logrus.New()
	}

	runID := uuid.NewString()
	summary := Summary{
		RunID:     runID,
		Succeeded: make(map[entity.Kind]int),
		Failed:    make(map[entity.Kind][]string),
	}

	wasRunning := d.Engine != nil && d.Engine.State() == engine.StateRunning
	if d.Engine != nil {
		d.Engine.Pause()
	}
	defer func() {
		if d.Engine != nil && wasRunning {
			d.Engine.Resume()
		}
	}()

	if d.Queue != nil {
		if err := d.Queue.Clear(ctx); err != nil {
			return summary, fmt.Errorf("bulkpush: clear queue: %w", err)
		}
	}

	all, err := readAll(ctx, d.Local)
	if err != nil {
		return summary, fmt.Errorf("bulkpush: read local store: %w", err)
	}

	warnings := repairOrphans(ctx, d.Local, all, d.Metrics)
	summary.Warnings = warnings

	order := []struct {
		kind       entity.Kind
		sequential bool
	}{
		{entity.KindPlayer, false},
		{entity.KindSeason, false},
		{entity.KindTournament, false},
		{entity.KindTeam, false},
		{entity.KindTeamRoster, true},
		{entity.KindPersonnel, false},
		{entity.KindGame, false},
		{entity.KindSettings, false},
		{entity.KindWarmupPlan, false},
		{entity.KindPlayerAdjustment, true},
	}

	for _, step := range order {
		entities := all[step.kind]
		if len(entities) == 0 {
			continue
		}
		chunk := d.Chunk
		if step.sequential {
			chunk = 1
		}
		succeeded, failed := pushKind(ctx, d.Remote, step.kind, entities, chunk, d.Retry, logger, runID, d.Metrics)
		summary.Succeeded[step.kind] = succeeded
		if len(failed) > 0 {
			summary.Failed[step.kind] = failed
		}
	}

	return summary, nil
}

func readAll(ctx context.Context, local localstore.Store) (map[entity.Kind][]entity.Entity, error) {
	all := make(map[entity.Kind][]entity.Entity)
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(entity.AllKinds))

	for _, kind := range entity.AllKinds {
		kind := kind
		wg.Add(1)
		go func() {
			defer wg.Done()
			entities, err := local.List(ctx, kind)
			if err != nil {
				errCh <- fmt.Errorf("list %s: %w", kind, err)
				return
			}
			mu.Lock()
			all[kind] = entities
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

// pushKind dispatches entities for one kind in chunks of size chunkSize,
// with parallel dispatch within a chunk (chunkSize==1 degenerates to
// sequential dispatch, used for TeamRoster and PlayerAdjustment).
func pushKind(ctx context.Context, remote remotestore.Store, kind entity.Kind, entities []entity.Entity, chunkSize int, retry RetryConfig, logger *logrus.Logger, runID string, m metrics.Manager) (int, []string) {
	var succeeded int
	var failedMu sync.Mutex
	var failed []string

	for start := 0; start < len(entities); start += chunkSize {
		end := start + chunkSize
		if end > len(entities) {
			end = len(entities)
		}
		group := entities[start:end]

		var wg sync.WaitGroup
		var succMu sync.Mutex
		for _, e := range group {
			e := e
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := pushOneWithRetry(ctx, remote, kind, e, retry)
				if m != nil {
					m.RecordBulkPushEntry(string(kind), err == nil)
				}
				if err != nil {
					logger.WithError(err).WithFields(logrus.Fields{"run_id": runID, "kind": kind, "id": e.ID}).
						Warn("bulkpush: entity push failed after retries")
					failedMu.Lock()
					failed = append(failed, e.ID)
					failedMu.Unlock()
					return
				}
				succMu.Lock()
				succeeded++
				succMu.Unlock()
			}()
		}
		wg.Wait()
	}

	return succeeded, failed
}

func pushOneWithRetry(ctx context.Context, remote remotestore.Store, kind entity.Kind, e entity.Entity, retry RetryConfig) error {
	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retry.Base << uint(attempt-1)
			if delay > retry.Cap {
				delay = retry.Cap
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := remote.Upsert(ctx, kind, e); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
