// Package factory is the process-wide construction point for the Write-
// Through Wrapper and its Remote Store: exactly one of each is built per
// process, lazily and race-safely, and torn down cleanly when the caller
// switches mode or user (spec.md §4.6).
package factory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/config"
	"github.com/matchops/local-sync/internal/executor"
	"github.com/matchops/local-sync/internal/localstore"
	"github.com/matchops/local-sync/internal/queue"
	"github.com/matchops/local-sync/internal/remotestore"
	"github.com/matchops/local-sync/internal/userscope"
	"github.com/matchops/local-sync/internal/writethrough"
)

// Mode identifies what kind of Remote Store a built Wrapper is wired
// against. A mode change tears down the previous instance before building
// the new one (spec.md §4.6).
type Mode string

const (
	ModeS3      Mode = "s3"
	ModeOffline Mode = "offline"
)

// Factory lazily constructs exactly one Wrapper per userId+mode pair and
// remembers it; concurrent first callers share a single in-flight build
// via a singleflight-style promise so the underlying stores are opened
// exactly once.
type Factory struct {
	mu sync.Mutex

	cfg    config.Config
	logger *logrus.Logger

	userID string
	mode   Mode

	wrapper *writethrough.Wrapper
	remote  remotestore.Store

	building bool
	built    chan struct{}
	buildErr error
}

// New constructs an empty Factory. Nothing is built until GetWrapper is
// first called.
func New(cfg config.Config, logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// GetWrapper returns the process-wide Wrapper for userID in mode m,
// building it on first call. Concurrent callers during the first build
// block on the same in-flight construction rather than racing to build
// independent instances.
func (f *Factory) GetWrapper(ctx context.Context, userID string, m Mode) (*writethrough.Wrapper, error) {
	f.mu.Lock()
	if f.wrapper != nil && f.userID == userID && f.mode == m {
		w := f.wrapper
		f.mu.Unlock()
		return w, nil
	}

	if f.building {
		wait := f.built
		f.mu.Unlock()
		<-wait
		f.mu.Lock()
		if f.wrapper != nil && f.userID == userID && f.mode == m && f.buildErr == nil {
			w := f.wrapper
			f.mu.Unlock()
			return w, nil
		}
		f.mu.Unlock()
		return f.GetWrapper(ctx, userID, m)
	}

	// Mode or user changed: tear down the previous instance before
	// building the new one.
	if f.wrapper != nil {
		f.mu.Unlock()
		if err := f.Reset(ctx); err != nil {
			return nil, err
		}
		f.mu.Lock()
	}

	f.building = true
	f.built = make(chan struct{})
	f.mu.Unlock()

	w, remote, err := f.build(ctx, userID, m)

	f.mu.Lock()
	f.building = false
	f.buildErr = err
	if err == nil {
		f.wrapper = w
		f.remote = remote
		f.userID = userID
		f.mode = m
	}
	close(f.built)
	f.mu.Unlock()

	return w, err
}

func (f *Factory) build(ctx context.Context, userID string, m Mode) (*writethrough.Wrapper, remotestore.Store, error) {
	if err := userscope.ValidateUserID(userID); err != nil {
		return nil, nil, fmt.Errorf("factory: %w", err)
	}
	dbName, err := userscope.DatabaseName(userID)
	if err != nil {
		return nil, nil, fmt.Errorf("factory: %w", err)
	}

	local, err := localstore.NewBadgerStore(localstore.BadgerOptions{
		DataDir:      f.cfg.DataDir,
		DatabaseName: dbName,
		SyncWrites:   true,
		Logger:       f.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("factory: open local store: %w", err)
	}

	q, err := queue.OpenBadgerQueue(f.cfg.DataDir, dbName, f.logger)
	if err != nil {
		_ = local.Close()
		return nil, nil, fmt.Errorf("factory: open queue: %w", err)
	}

	w := writethrough.New(userID, local, q, f.logger)
	if err := w.Initialize(ctx); err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("factory: initialize wrapper: %w", err)
	}

	var remote remotestore.Store
	switch m {
	case ModeS3:
		remote = remotestore.NewS3Store(remotestore.S3StoreConfig{
			Endpoint:  f.cfg.Remote.Endpoint,
			Region:    f.cfg.Remote.Region,
			AccessKey: f.cfg.Remote.AccessKey,
			SecretKey: f.cfg.Remote.SecretKey,
			Bucket:    f.cfg.Remote.Bucket,
			TenantID:  userID,
			Logger:    f.logger,
		})
	case ModeOffline:
		remote = remotestore.NewFakeStore()
	default:
		_ = w.Close()
		return nil, nil, fmt.Errorf("factory: unknown mode %q", m)
	}

	w.SetRemoteStore(remote)
	w.SetExecutor(executor.New(remote))

	return w, remote, nil
}

// Reset tears down the current Wrapper (if any): stops the engine via
// Wrapper.Close (which itself resets the engine singleton and clears the
// queue connection), releases the Remote Store, and clears remembered
// state. Idempotent.
func (f *Factory) Reset(ctx context.Context) error {
	f.mu.Lock()
	w := f.wrapper
	remote := f.remote
	f.wrapper = nil
	f.remote = nil
	f.userID = ""
	f.mode = ""
	f.mu.Unlock()

	var firstErr error
	if w != nil {
		w.StopSync(ctx)
		if err := w.Close(); err != nil {
			firstErr = err
		}
	}
	if remote != nil {
		if err := remote.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
