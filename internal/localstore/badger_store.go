package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/entity"
)

// BadgerStore is a reference Local Store implementation backed by
// BadgerDB, one database directory per user (named per
// internal/userscope.DatabaseName). Entities are stored as JSON blobs under
// a "<kind>:<id>" key, mirroring the key-naming convention used throughout
// the rest of this module's storage layer.
type BadgerStore struct {
	db     *badger.DB
	path   string
	ready  atomic.Bool
	logger *logrus.Logger
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// DataDir is the parent directory; the actual database lives in
	// DataDir/<DatabaseName>.
	DataDir      string
	DatabaseName string
	SyncWrites   bool
	Logger       *logrus.Logger
}

// NewBadgerStore opens (creating if absent) the BadgerDB database for a
// single user's local entity store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.DatabaseName == "" {
		return nil, fmt.Errorf("localstore: database name must not be empty")
	}

	path := filepath.Join(opts.DataDir, opts.DatabaseName)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("localstore: create data dir: %w", err)
	}

	badgerOpts := badger.DefaultOptions(path).
		WithLogger(newBadgerLogAdapter(opts.Logger)).
		WithSyncWrites(opts.SyncWrites)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("localstore: open badger db: %w", err)
	}

	s := &BadgerStore{db: db, path: path, logger: opts.Logger}
	s.ready.Store(true)

	opts.Logger.WithField("path", path).Info("local entity store opened")
	return s, nil
}

func entityKey(kind entity.Kind, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", kind, id))
}

func entityPrefix(kind entity.Kind) []byte {
	return []byte(fmt.Sprintf("%s:", kind))
}

func (s *BadgerStore) getRaw(kind entity.Kind, id string) (entity.Entity, error) {
	var e entity.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(kind, id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, err
}

func (s *BadgerStore) putRaw(kind entity.Kind, id string, e entity.Entity) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("localstore: marshal entity: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entityKey(kind, id), raw)
	})
}

// Create implements Store.
func (s *BadgerStore) Create(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	e.Kind = kind
	if err := s.putRaw(kind, e.ID, e); err != nil {
		return entity.Entity{}, err
	}
	return e, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	return s.getRaw(kind, id)
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	if _, err := s.getRaw(kind, e.ID); err != nil {
		return entity.Entity{}, err
	}
	e.Kind = kind
	if err := s.putRaw(kind, e.ID, e); err != nil {
		return entity.Entity{}, err
	}
	return e, nil
}

// Upsert implements Store.
func (s *BadgerStore) Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) (entity.Entity, error) {
	e.Kind = kind
	if err := s.putRaw(kind, e.ID, e); err != nil {
		return entity.Entity{}, err
	}
	return e, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, kind entity.Kind, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(entityKey(kind, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context, kind entity.Kind) ([]entity.Entity, error) {
	var out []entity.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entityPrefix(kind)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var e entity.Entity
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// DatabaseExists reports whether a database directory with the given name
// exists under the same data root as this store.
func (s *BadgerStore) DatabaseExists(ctx context.Context, name string) (bool, error) {
	parent := filepath.Dir(s.path)
	info, err := os.Stat(filepath.Join(parent, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// GetRaw reads an arbitrary byte key, for use by internal/metrics's history
// store. Returns ErrNotFound if absent.
func (s *BadgerStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}

// PutRaw writes an arbitrary byte key, for use by internal/metrics's history
// store.
func (s *BadgerStore) PutRaw(ctx context.Context, key string, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// RawScan iterates every key with the given prefix, starting at startKey (or
// the prefix itself if startKey is empty), calling fn for each until fn
// returns false or the prefix is exhausted.
func (s *BadgerStore) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := opts.Prefix
		if startKey != "" {
			seek = []byte(startKey)
		}
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			var cont bool
			err := item.Value(func(val []byte) error {
				cont = fn(key, val)
				return nil
			})
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// RawBatch applies a set of raw key writes and deletes atomically.
func (s *BadgerStore) RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for k, v := range sets {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		for _, k := range deletes {
			if err := txn.Delete([]byte(k)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// RawGC runs BadgerDB's value-log garbage collection once.
func (s *BadgerStore) RawGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// Close implements Store. Idempotent.
func (s *BadgerStore) Close() error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
