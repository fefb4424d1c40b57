// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package badger implements storage.Backend on BadgerDB.
package badger

import (
	"errors"
	"fmt"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
)

// conflictRetries bounds how often Update re-runs after a write conflict.
const conflictRetries = 3

// Config configures a badger backend.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// Storage is a badger-backed storage.Backend.
type Storage struct {
	db *badgerdb.DB

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Storage, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger storage: directory cannot be empty")
	}

	opts := badgerdb.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts.Logger = nil

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger storage: open: %w", err)
	}
	return &Storage{db: db}, nil
}

// Get retrieves the value for the given key.
func (s *Storage) Get(key string) ([]byte, error) {
	var out []byte
	err := s.view(func(txn *badgerdb.Txn) error {
		v, err := get(txn, key)
		out = v
		return err
	})
	return out, err
}

// Put stores the value for the given key. opts is ignored.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	return s.update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), append([]byte{}, value...))
	})
}

// Delete removes the key and its value from storage.
func (s *Storage) Delete(key string) error {
	return s.update(func(txn *badgerdb.Txn) error {
		return del(txn, key)
	})
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	var keys []string
	err := s.view(func(txn *badgerdb.Txn) error {
		keys = list(txn, prefix)
		return nil
	})
	return keys, err
}

// Exists checks if a key exists in storage.
func (s *Storage) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Update runs fn in a badger read-write transaction. fn is re-run when
// the commit loses a conflict with a concurrent transaction, so it must
// not have side effects outside the Txn.
func (s *Storage) Update(fn func(tx storage.Txn) error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = s.update(func(btx *badgerdb.Txn) error {
			t := &txn{txn: btx}
			defer func() { t.done = true }()
			return fn(t)
		})
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badger storage: update: %w", err)
}

// Close closes the database. Safe to call more than once.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Storage) view(fn func(txn *badgerdb.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.View(fn)
}

func (s *Storage) update(fn func(txn *badgerdb.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.Update(fn)
}

func get(txn *badgerdb.Txn, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrNotFound
	}
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger storage: get %q: %w", key, err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger storage: read %q: %w", key, err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func del(txn *badgerdb.Txn, key string) error {
	if _, err := get(txn, key); err != nil {
		return err
	}
	return txn.Delete([]byte(key))
}

func list(txn *badgerdb.Txn, prefix string) []string {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	p := []byte(prefix)
	opts.Prefix = p

	it := txn.NewIterator(opts)
	defer it.Close()

	keys := make([]string, 0)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}

// txn adapts a badger transaction to storage.Txn.
type txn struct {
	txn  *badgerdb.Txn
	done bool
}

func (t *txn) Get(key string) ([]byte, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}
	return get(t.txn, key)
}

func (t *txn) Put(key string, value []byte) error {
	if t.done {
		return storage.ErrTxDone
	}
	if key == "" {
		return storage.ErrInvalidKey
	}
	return t.txn.Set([]byte(key), append([]byte{}, value...))
}

func (t *txn) Delete(key string) error {
	if t.done {
		return storage.ErrTxDone
	}
	return del(t.txn, key)
}

func (t *txn) List(prefix string) ([]string, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}
	return list(t.txn, prefix), nil
}
