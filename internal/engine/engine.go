// Package engine implements the Sync Engine: a single background
// cooperative loop that owns one Sync Queue and one Sync Executor, drains
// the queue through the executor, and exposes its state machine, counters,
// and status broadcasting to the rest of the module.
package engine

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/executor"
	"github.com/matchops/local-sync/internal/metrics"
	"github.com/matchops/local-sync/internal/queue"
)

// State is one of the five cooperative-loop states in spec.md §4.4.
type State string

const (
	StateIdle     State = "Idle"
	StateRunning  State = "Running"
	StatePaused   State = "Paused"
	StateDraining State = "Draining"
	StateStopped  State = "Stopped"
)

// Status is the snapshot broadcast to listeners whenever a counter or the
// state changes.
type Status struct {
	State          State
	PendingCount   int64
	FailedCount    int64
	IsOnline       bool
	CloudConnected bool
	LastSyncedAt   time.Time
}

// StatusListener receives every Status change. A listener that panics is
// recovered and logged; it never prevents delivery to the remaining
// listeners (spec.md §5).
type StatusListener func(Status)

// BackoffConfig tunes the exponential retry delay applied to
// TransientRemoteError results: base * 2^attempts, capped, with jitter.
type BackoffConfig struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

// DefaultBackoff matches the teacher's conservative defaults for
// background retry loops: a 500ms base doubling up to a 30s ceiling, with
// up to 20% jitter and at least 3 attempts before the entry is still
// retried (spec.md §4.4 requires maxAttempts ≥ 3; this engine does not cap
// attempts at all, only the delay, since the spec draws the Transient vs.
// Permanent line at the executor's classification, not at an attempt
// count).
var DefaultBackoff = BackoffConfig{
	Base:   500 * time.Millisecond,
	Cap:    30 * time.Second,
	Jitter: 0.2,
}

func (b BackoffConfig) delay(attempts int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	cap := b.Cap
	if cap <= 0 {
		cap = DefaultBackoff.Cap
	}
	raw := float64(base) * math.Pow(2, float64(attempts))
	if raw > float64(cap) {
		raw = float64(cap)
	}
	jitter := b.Jitter
	if jitter <= 0 {
		jitter = DefaultBackoff.Jitter
	}
	delta := raw * jitter * (rand.Float64()*2 - 1)
	d := time.Duration(raw + delta)
	if d < 0 {
		d = 0
	}
	return d
}

// ConnectivityChecker reports whether the process currently believes it
// has network reachability. The engine treats "no executor set"
// and "!isOnline" identically: sleep until a nudge or an online event.
type ConnectivityChecker interface {
	IsOnline() bool
}

// Engine is the Sync Engine. It is a process-wide singleton (see
// GetEngine/ResetEngine) bound to exactly one Queue at a time.
type Engine struct {
	mu sync.Mutex

	q        queue.Queue
	exec     executor.Func
	logger   *logrus.Logger
	backoff  BackoffConfig
	metrics  metrics.Manager

	state          State
	isOnline       bool
	cloudConnected bool
	pendingCount   int64
	failedCount    int64
	lastSyncedAt   time.Time

	listeners []StatusListener

	nudgeCh  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	drainReq bool
}

// New constructs an Engine bound to q, in the initial Idle state. The
// executor is unset until SetExecutor is called; until then the loop
// sleeps (spec.md §4.4 step 1).
func New(q queue.Queue, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		q:       q,
		logger:  logger,
		backoff: DefaultBackoff,
		state:   StateIdle,
		nudgeCh: make(chan struct{}, 1),
	}
}

// SetExecutor installs the Sync Executor function.
func (e *Engine) SetExecutor(fn executor.Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exec = fn
}

// SetMetrics installs the metrics sink state transitions and dispatch
// outcomes are reported to. A nil metrics.Manager (the zero value) is
// never installed; callers that don't care about metrics simply never
// call SetMetrics, and recordTransition/recordDispatch no-op.
func (e *Engine) SetMetrics(m metrics.Manager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

func (e *Engine) recordTransition(from, to State) {
	e.mu.Lock()
	m := e.metrics
	e.mu.Unlock()
	if m != nil && from != to {
		m.RecordEngineStateTransition(string(from), string(to))
	}
}

// SetOnline updates the engine's network-reachability signal and nudges
// the loop so it can resume dispatch immediately on reconnect.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	changed := e.isOnline != online
	e.isOnline = online
	e.mu.Unlock()
	if changed {
		e.Nudge()
		e.broadcast()
	}
}

// SetBackoff overrides the default retry backoff tuning.
func (e *Engine) SetBackoff(cfg BackoffConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backoff = cfg
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a snapshot of the engine's current state and counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Status {
	return Status{
		State:          e.state,
		PendingCount:   e.pendingCount,
		FailedCount:    e.failedCount,
		IsOnline:       e.isOnline,
		CloudConnected: e.cloudConnected,
		LastSyncedAt:   e.lastSyncedAt,
	}
}

// OnStatusChange registers a listener and returns an unsubscribe func.
func (e *Engine) OnStatusChange(l StatusListener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
	idx := len(e.listeners) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.listeners) {
			e.listeners[idx] = nil
		}
	}
}

func (e *Engine) broadcast() {
	e.mu.Lock()
	snap := e.snapshotLocked()
	listeners := make([]StatusListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		if l == nil {
			continue
		}
		e.safeNotify(l, snap)
	}
}

// safeNotify calls l, recovering and logging any panic so one bad listener
// never denies delivery to the rest (spec.md §5).
func (e *Engine) safeNotify(l StatusListener, snap Status) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).Error("sync engine: status listener panicked")
		}
	}()
	l(snap)
}

// Nudge wakes the loop if it's sleeping. Collapses: multiple nudges before
// the loop observes one are equivalent to a single nudge.
func (e *Engine) Nudge() {
	select {
	case e.nudgeCh <- struct{}{}:
	default:
	}
}

// Start transitions Idle → Running and spawns the background loop. It is a
// no-op if already Running or Paused (resume should be used instead).
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		e.mu.Unlock()
		return
	}
	if e.state == StateStopped || e.state == StateDraining {
		// A stopped/draining engine cannot be restarted; callers must
		// construct a fresh one via ResetEngine.
		e.mu.Unlock()
		return
	}
	from := e.state
	e.state = StateRunning
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	e.recordTransition(from, StateRunning)
	e.broadcast()
	go e.loop(ctx)
}

// Pause transitions Running → Paused, suspending dispatch while keeping
// listeners subscribed and status visible.
func (e *Engine) Pause() {
	e.mu.Lock()
	from := e.state
	if e.state == StateRunning {
		e.state = StatePaused
	}
	to := e.state
	e.mu.Unlock()
	e.recordTransition(from, to)
	e.broadcast()
}

// Resume transitions Paused → Running.
func (e *Engine) Resume() {
	e.mu.Lock()
	from := e.state
	if e.state == StatePaused {
		e.state = StateRunning
	}
	to := e.state
	e.mu.Unlock()
	e.recordTransition(from, to)
	e.broadcast()
	e.Nudge()
}

// Dispose transitions Running → Draining, waits (bounded by ctx) for the
// in-flight executor call to finish, then Stopped. Used for graceful
// shutdown.
func (e *Engine) Dispose(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	from := e.state
	e.state = StateDraining
	e.drainReq = true
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()
	e.recordTransition(from, StateDraining)
	e.broadcast()

	if stopCh == nil {
		return
	}
	select {
	case <-doneCh:
	case <-ctx.Done():
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.recordTransition(StateDraining, StateStopped)
	e.broadcast()
}

// Stop transitions any state → Stopped, interrupting mid-flight work. Used
// only when the surrounding write-through wrapper is torn down for an
// account switch or a full data clear.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	from := e.state
	prevStop := e.stopCh
	e.state = StateStopped
	e.mu.Unlock()
	e.recordTransition(from, StateStopped)

	if prevStop != nil {
		close(prevStop)
	}
	e.broadcast()
}

func (e *Engine) loop(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		if e.doneCh != nil {
			close(e.doneCh)
		}
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		state := e.state
		stopCh := e.stopCh
		e.mu.Unlock()

		if state != StateRunning {
			if state == StateStopped {
				return
			}
			if state == StateDraining {
				return
			}
			// Paused or Idle: sleep until nudged or stopped.
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-e.nudgeCh:
			case <-time.After(time.Second):
			}
			continue
		}

		e.mu.Lock()
		online := e.isOnline
		exec := e.exec
		e.mu.Unlock()

		if !online || exec == nil {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-e.nudgeCh:
			case <-time.After(time.Second):
			}
			continue
		}

		entry, ok, err := e.q.Next(ctx)
		if err != nil {
			e.logger.WithError(err).Error("sync engine: queue scan failed")
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-e.nudgeCh:
			case <-time.After(time.Second):
			}
			continue
		}

		e.dispatch(ctx, entry)
	}
}

func (e *Engine) dispatch(ctx context.Context, entry *queue.Entry) {
	if err := e.q.MarkDispatched(ctx, entry.ID); err != nil {
		e.logger.WithError(err).Error("sync engine: mark-dispatched failed")
		return
	}

	e.mu.Lock()
	exec := e.exec
	m := e.metrics
	e.mu.Unlock()

	start := time.Now()
	err := exec(ctx, entry.Op)
	duration := time.Since(start)
	if m != nil {
		m.RecordExecutorDispatch(string(entry.Op.Kind), string(entry.Op.Op), err == nil, duration)
	}

	if err == nil {
		if rmErr := e.q.Remove(ctx, entry.ID); rmErr != nil {
			e.logger.WithError(rmErr).Error("sync engine: remove dispatched entry failed")
		}
		e.mu.Lock()
		e.lastSyncedAt = time.Now()
		if e.pendingCount > 0 {
			e.pendingCount--
		}
		e.mu.Unlock()
		e.broadcast()
		return
	}

	var classified *executor.Error
	if ce, ok := err.(*executor.Error); ok {
		classified = ce
	} else {
		classified = &executor.Error{Classification: executor.ClassTransient, Cause: err}
	}
	if m != nil {
		m.RecordExecutorError(string(classified.Classification))
	}

	switch classified.Classification {
	case executor.ClassTransient:
		attempts := entry.Attempts + 1
		if mErr := e.q.MarkRetry(ctx, entry.ID, classified.Error()); mErr != nil {
			e.logger.WithError(mErr).Error("sync engine: mark-retry failed")
		}
		e.mu.Lock()
		backoff := e.backoff
		e.mu.Unlock()
		delay := backoff.delay(attempts)
		e.logger.WithFields(logrus.Fields{"key": entry.Key().String(), "attempts": attempts, "delay": delay}).Warn("sync engine: transient remote error, will retry")
		time.AfterFunc(delay, e.Nudge)

	case executor.ClassPermanent:
		if fErr := e.q.MarkFailed(ctx, entry.ID, classified.Error()); fErr != nil {
			e.logger.WithError(fErr).Error("sync engine: mark-failed failed")
		}
		e.mu.Lock()
		e.failedCount++
		if e.pendingCount > 0 {
			e.pendingCount--
		}
		e.mu.Unlock()
		e.logger.WithField("key", entry.Key().String()).Error("sync engine: permanent remote error, entry shelved")
		e.broadcast()

	case executor.ClassAuthLost:
		if mErr := e.q.MarkRetry(ctx, entry.ID, classified.Error()); mErr != nil {
			e.logger.WithError(mErr).Error("sync engine: mark-retry failed")
		}
		e.mu.Lock()
		from := e.state
		e.cloudConnected = false
		e.state = StatePaused
		e.mu.Unlock()
		e.recordTransition(from, StatePaused)
		e.logger.Error("sync engine: authorization lost, pausing")
		e.broadcast()
	}
}

// RefreshCounts recomputes pendingCount/failedCount from the queue and
// broadcasts if they changed. Callers (typically the write-through
// wrapper, after enqueue) call this alongside Nudge.
func (e *Engine) RefreshCounts(ctx context.Context) {
	stats, err := e.q.GetStats(ctx)
	if err != nil {
		e.logger.WithError(err).Error("sync engine: refresh counts failed")
		return
	}
	e.mu.Lock()
	changed := e.pendingCount != stats.Pending || e.failedCount != stats.Failed
	e.pendingCount = stats.Pending
	e.failedCount = stats.Failed
	e.mu.Unlock()
	if changed {
		e.broadcast()
	}
}

// SetCloudConnected updates the derived cloudConnected flag directly
// (e.g. after a successful TestConnection probe clears a prior AuthLost
// pause).
func (e *Engine) SetCloudConnected(connected bool) {
	e.mu.Lock()
	changed := e.cloudConnected != connected
	e.cloudConnected = connected
	e.mu.Unlock()
	if changed {
		e.broadcast()
	}
}
