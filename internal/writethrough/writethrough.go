// Package writethrough implements the Write-Through Wrapper: the public
// entity-CRUD surface an application calls, which fans each mutation to
// the Local Store and then records a corresponding Operation in the Sync
// Queue, nudging the Sync Engine. It is the sole owner of its userId's
// Local Store and Sync Queue.
package writethrough

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/bulkpush"
	"github.com/matchops/local-sync/internal/engine"
	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/executor"
	"github.com/matchops/local-sync/internal/localstore"
	"github.com/matchops/local-sync/internal/metrics"
	"github.com/matchops/local-sync/internal/queue"
	"github.com/matchops/local-sync/internal/remotestore"
)

// BackendName is returned by GetBackendName, identifying this wrapper to
// callers that branch on storage backend.
const BackendName = "synced"

// timerKind namespaces timer-state writes in the local store. Timer state
// is never queued (ephemeral, local-only) and is not one of the ten
// enumerated entity kinds a remote store ever sees.
const timerKind entity.Kind = "TimerState"

// QueueErrorEvent is delivered to queue-error listeners when a local write
// succeeds but the subsequent enqueue fails (spec.md §4.1/§7).
type QueueErrorEvent struct {
	Kind         entity.Kind
	ID           string
	Op           entity.OpType
	ErrorMessage string
}

// QueueErrorListener receives QueueErrorEvents. Like status listeners, a
// panicking listener must not deny delivery to the others.
type QueueErrorListener func(QueueErrorEvent)

// Wrapper is the Write-Through Wrapper (W). Exactly one Wrapper owns a
// given userId's Local Store and Sync Queue at a time.
type Wrapper struct {
	mu sync.RWMutex

	userID  string
	local   localstore.Store
	q       queue.Queue
	eng     *engine.Engine
	remote  remotestore.Store
	logger  *logrus.Logger
	metrics metrics.Manager

	initialized bool
	closed      bool

	queueListeners []QueueErrorListener
}

// New constructs a Wrapper bound to an already-open Local Store and Sync
// Queue, and the process-wide Engine singleton bound to that queue.
func New(userID string, local localstore.Store, q queue.Queue, logger *logrus.Logger) *Wrapper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Wrapper{
		userID: userID,
		local:  local,
		q:      q,
		eng:    engine.GetEngine(q, logger),
		logger: logger,
	}
}

// Initialize opens the backing queue for this userId. Idempotent.
func (w *Wrapper) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writethrough: initialize called after close")
	}
	if err := w.q.Initialize(ctx); err != nil {
		return fmt.Errorf("writethrough: initialize queue: %w", err)
	}
	w.initialized = true
	return nil
}

// IsInitialized reports whether Initialize has completed.
func (w *Wrapper) IsInitialized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.initialized
}

// IsAvailable reports whether the wrapper is usable: initialized and not
// yet closed.
func (w *Wrapper) IsAvailable() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.initialized && !w.closed
}

// GetBackendName identifies this wrapper's storage backend to callers.
func (w *Wrapper) GetBackendName() string { return BackendName }

// GetLocalStore exposes the underlying Local Store for callers (and the
// bulk pusher) that need direct read access.
func (w *Wrapper) GetLocalStore() localstore.Store {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.local
}

// SetExecutor installs the Sync Executor the engine dispatches through.
// A no-op after Close.
func (w *Wrapper) SetExecutor(fn executor.Func) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.eng.SetExecutor(fn)
}

// SetRemoteStore installs the Remote Store used by clear and bulk-push. A
// no-op after Close.
func (w *Wrapper) SetRemoteStore(r remotestore.Store) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.remote = r
}

// SetMetrics installs the metrics sink this wrapper, its engine, and any
// bulk push it runs report to.
func (w *Wrapper) SetMetrics(m metrics.Manager) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.metrics = m
	eng := w.eng
	w.mu.Unlock()
	eng.SetMetrics(m)
}

// StartSync transitions the engine to Running.
func (w *Wrapper) StartSync(ctx context.Context) {
	w.mu.RLock()
	eng := w.eng
	w.mu.RUnlock()
	eng.Start(ctx)
}

// StopSync disposes the engine gracefully, waiting for any in-flight
// dispatch to finish.
func (w *Wrapper) StopSync(ctx context.Context) {
	w.mu.RLock()
	eng := w.eng
	w.mu.RUnlock()
	eng.Dispose(ctx)
}

// GetSyncStatus returns the engine's current status snapshot.
func (w *Wrapper) GetSyncStatus() engine.Status {
	w.mu.RLock()
	eng := w.eng
	w.mu.RUnlock()
	return eng.Status()
}

// OnSyncStatusChange forwards to the engine's listener registry.
func (w *Wrapper) OnSyncStatusChange(l engine.StatusListener) func() {
	w.mu.RLock()
	eng := w.eng
	w.mu.RUnlock()
	return eng.OnStatusChange(l)
}

// OnQueueError registers a listener for enqueue-failure events and
// returns an unsubscribe func.
func (w *Wrapper) OnQueueError(l QueueErrorListener) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queueListeners = append(w.queueListeners, l)
	idx := len(w.queueListeners) - 1
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if idx < len(w.queueListeners) {
			w.queueListeners[idx] = nil
		}
	}
}

func (w *Wrapper) emitQueueError(evt QueueErrorEvent) {
	w.mu.RLock()
	listeners := make([]QueueErrorListener, len(w.queueListeners))
	copy(listeners, w.queueListeners)
	w.mu.RUnlock()

	for _, l := range listeners {
		if l == nil {
			continue
		}
		w.safeNotifyQueueError(l, evt)
	}
}

func (w *Wrapper) safeNotifyQueueError(l QueueErrorListener, evt QueueErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("writethrough: queue-error listener panicked")
		}
	}()
	l(evt)
}

// enqueue records op in Q and nudges the engine. If enqueue fails, the
// failure is logged, reported to queue-error listeners, and swallowed:
// the local write already succeeded and is never rolled back.
func (w *Wrapper) enqueue(ctx context.Context, op entity.Operation) {
	w.mu.RLock()
	initialized := w.initialized
	closed := w.closed
	q := w.q
	eng := w.eng
	m := w.metrics
	w.mu.RUnlock()

	if closed {
		return
	}
	if !initialized {
		w.logger.WithFields(logrus.Fields{"kind": op.Kind, "id": op.ID, "op": op.Op}).
			Warn("writethrough: enqueue skipped, wrapper not yet initialized")
		return
	}

	op.EnqueuedAt = time.Now().UnixNano()
	deduped, err := q.Enqueue(ctx, op)
	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{"kind": op.Kind, "id": op.ID, "op": op.Op}).
			Error("writethrough: enqueue failed")
		w.emitQueueError(QueueErrorEvent{Kind: op.Kind, ID: op.ID, Op: op.Op, ErrorMessage: err.Error()})
		return
	}
	if m != nil {
		m.RecordQueueEnqueue(string(op.Kind), string(op.Op), deduped)
	}
	eng.RefreshCounts(ctx)
	eng.Nudge()
}

// Create delegates to L, then enqueues a Create operation carrying the
// returned entity.
func (w *Wrapper) Create(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	w.mu.RLock()
	local := w.local
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return entity.Entity{}, fmt.Errorf("writethrough: create after close")
	}

	stored, err := local.Create(ctx, kind, e)
	if err != nil {
		return entity.Entity{}, err
	}
	w.enqueue(ctx, entity.Operation{Kind: kind, ID: stored.ID, Op: entity.OpCreate, Payload: stored})
	return stored, nil
}

// Get is a pure delegation to L; no queue or engine interaction.
func (w *Wrapper) Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	w.mu.RLock()
	local := w.local
	w.mu.RUnlock()
	return local.Get(ctx, kind, id)
}

// Update delegates to L, then enqueues an Update carrying the returned
// entity. Settings and Game saves first apply change detection: if the
// new value is canonically equal to the prior value (timestamps
// excluded), both the write and the enqueue are skipped and the prior
// value is returned (spec.md §4.1).
func (w *Wrapper) Update(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	w.mu.RLock()
	local := w.local
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return entity.Entity{}, fmt.Errorf("writethrough: update after close")
	}

	if changeDetected(kind) {
		prior, err := local.Get(ctx, kind, e.ID)
		if err == nil && entity.CanonicalEqual(prior.Payload, e.Payload) {
			return prior, nil
		}
	}

	stored, err := local.Update(ctx, kind, e)
	if err != nil {
		if err == localstore.ErrNotFound {
			// "update* → skip if L returned 'no such entity'" (spec.md §4.1).
			return entity.Entity{}, err
		}
		return entity.Entity{}, err
	}
	w.enqueue(ctx, entity.Operation{Kind: kind, ID: stored.ID, Op: entity.OpUpdate, Payload: stored})
	return stored, nil
}

// Upsert delegates to L.Upsert, but is always enqueued as Create (spec.md
// §3 rule 3, §4.1): this is required for Create+Delete cancellation to
// fire for callers that intend create-or-update semantics.
func (w *Wrapper) Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	w.mu.RLock()
	local := w.local
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return entity.Entity{}, fmt.Errorf("writethrough: upsert after close")
	}

	stored, err := local.Upsert(ctx, kind, e)
	if err != nil {
		return entity.Entity{}, err
	}
	w.enqueue(ctx, entity.Operation{Kind: kind, ID: stored.ID, Op: entity.OpCreate, Payload: stored})
	return stored, nil
}

// Delete delegates to L, then enqueues a Delete with payload nil, except
// for PlayerAdjustment which carries {playerId} since its remote identity
// is composite.
func (w *Wrapper) Delete(ctx context.Context, kind entity.Kind, id string, playerID string) error {
	w.mu.RLock()
	local := w.local
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return fmt.Errorf("writethrough: delete after close")
	}

	if err := local.Delete(ctx, kind, id); err != nil {
		return err
	}

	var payload interface{}
	if kind == entity.KindPlayerAdjustment {
		payload = entity.PlayerAdjustmentDeletePayload{PlayerID: playerID}
	}
	w.enqueue(ctx, entity.Operation{Kind: kind, ID: id, Op: entity.OpDelete, Payload: payload})
	return nil
}

// SetTeamRoster applies a whole-roster replacement as a single Update on
// (TeamRoster, teamID).
func (w *Wrapper) SetTeamRoster(ctx context.Context, teamID string, roster interface{}) (entity.Entity, error) {
	return w.Update(ctx, entity.KindTeamRoster, entity.Entity{Kind: entity.KindTeamRoster, ID: teamID, Payload: roster})
}

// SaveAllGames fans out one Update per game with settle-all semantics:
// individual enqueue failures (already isolated inside Update/enqueue)
// never abort the batch, and every game's local write is always
// attempted.
func (w *Wrapper) SaveAllGames(ctx context.Context, games []entity.Entity) []error {
	errs := make([]error, len(games))
	for i, g := range games {
		_, err := w.Update(ctx, entity.KindGame, g)
		errs[i] = err
	}
	return errs
}

// SaveTimerState writes ephemeral, local-only timer state. It is never
// queued: ticking game clocks have no remote meaning.
func (w *Wrapper) SaveTimerState(ctx context.Context, id string, payload interface{}) error {
	w.mu.RLock()
	local := w.local
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return fmt.Errorf("writethrough: save timer state after close")
	}
	_, err := local.Upsert(ctx, timerKind, entity.Entity{Kind: timerKind, ID: id, Payload: payload})
	return err
}

// changeDetected reports whether kind participates in the
// skip-identical-save optimization (spec.md §4.1: Settings and Game).
func changeDetected(kind entity.Kind) bool {
	return kind == entity.KindSettings || kind == entity.KindGame
}

// ClearAllUserData pauses the engine (remembering its prior running
// state), clears Q, clears R (if attached) before L, clears L, then
// resumes the engine if it was previously running. Idempotent: running it
// twice is indistinguishable from running it once.
func (w *Wrapper) ClearAllUserData(ctx context.Context) error {
	w.mu.RLock()
	eng := w.eng
	q := w.q
	local := w.local
	remote := w.remote
	w.mu.RUnlock()

	wasRunning := eng.State() == engine.StateRunning
	eng.Pause()

	if err := q.Clear(ctx); err != nil {
		return fmt.Errorf("writethrough: clear queue: %w", err)
	}

	if remote != nil {
		if err := remote.ClearAllUserData(ctx); err != nil {
			w.logger.WithError(err).Error("writethrough: clear remote data failed")
		}
	}

	for _, kind := range entity.AllKinds {
		entities, err := local.List(ctx, kind)
		if err != nil {
			continue
		}
		for _, e := range entities {
			_ = local.Delete(ctx, kind, e.ID)
		}
	}

	if wasRunning {
		eng.Resume()
	}
	return nil
}

// PushAllToCloud runs an out-of-band bulk push (B): drains L straight to R
// in dependency order, bypassing Q entirely. The engine is paused for the
// duration and resumed afterward if it was running.
func (w *Wrapper) PushAllToCloud(ctx context.Context) (bulkpush.Summary, error) {
	w.mu.RLock()
	local := w.local
	q := w.q
	eng := w.eng
	remote := w.remote
	logger := w.logger
	m := w.metrics
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return bulkpush.Summary{}, fmt.Errorf("writethrough: push all to cloud after close")
	}

	return bulkpush.Run(ctx, bulkpush.Deps{
		Local:   local,
		Remote:  remote,
		Engine:  eng,
		Queue:   q,
		Logger:  logger,
		Metrics: m,
	})
}

// Close releases the queue connection and resets the process-wide engine
// singleton so the next Wrapper for a different userId observes a fresh
// engine and empty queue. Idempotent.
func (w *Wrapper) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.eng.Stop()
	engine.ResetEngine()
	return w.q.Close()
}
