package engine

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/queue"
)

// The Sync Engine is a process-wide singleton (spec.md §9): multiple users
// in one process MUST NOT share a queue, and there is no safe way to swap
// the engine's backing queue mid-flight. Each write-through wrapper owns
// its queue and expects a fresh engine view; GetEngine binds (or returns)
// the current singleton, and ResetEngine disposes it so the next caller
// observes a brand-new instance bound to its own queue.
var (
	singletonMu sync.Mutex
	singleton   *Engine
)

// GetEngine returns the current process-wide Engine singleton if one
// exists, or constructs and remembers one bound to q.
func GetEngine(q queue.Queue, logger *logrus.Logger) *Engine {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singleton = New(q, logger)
	}
	return singleton
}

// ResetEngine stops the current singleton (if any) and clears it so the
// next GetEngine call constructs a fresh instance. Idempotent.
func ResetEngine() {
	singletonMu.Lock()
	current := singleton
	singleton = nil
	singletonMu.Unlock()

	if current != nil {
		current.Stop()
	}
}
