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

// Package bolt implements storage.Backend on a single bbolt bucket.
package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"go.etcd.io/bbolt"
)

// DefaultBucket holds every key unless Config.Bucket is set.
const DefaultBucket = "encstore"

// Config configures a bolt backend.
type Config struct {
	// Path is the database file. Its parent directory is created if missing.
	Path string

	// Bucket is the bucket name; DefaultBucket when empty.
	Bucket string

	// Timeout bounds how long Open waits for the file lock. Zero waits
	// one second.
	Timeout time.Duration
}

// Storage is a bbolt-backed storage.Backend.
type Storage struct {
	db     *bbolt.DB
	bucket []byte

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Storage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt storage: path cannot be empty")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("bolt storage: create directory: %w", err)
	}
	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("bolt storage: open %s: %w", cfg.Path, err)
	}

	bucket := []byte(cfg.Bucket)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt storage: create bucket %q: %w", cfg.Bucket, err)
	}

	return &Storage{db: db, bucket: bucket}, nil
}

// Get retrieves the value for the given key.
func (s *Storage) Get(key string) ([]byte, error) {
	var out []byte
	err := s.view(func(tx *bbolt.Tx) error {
		v, err := get(tx.Bucket(s.bucket), key)
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
	return s.update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

// Delete removes the key and its value from storage.
func (s *Storage) Delete(key string) error {
	return s.update(func(tx *bbolt.Tx) error {
		return del(tx.Bucket(s.bucket), key)
	})
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	var keys []string
	err := s.view(func(tx *bbolt.Tx) error {
		keys = list(tx.Bucket(s.bucket), prefix)
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

// Update runs fn inside a single bbolt read-write transaction.
func (s *Storage) Update(fn func(tx storage.Txn) error) error {
	return s.update(func(tx *bbolt.Tx) error {
		t := &txn{b: tx.Bucket(s.bucket)}
		defer func() { t.done = true }()
		return fn(t)
	})
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

func (s *Storage) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.View(fn)
}

func (s *Storage) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return s.db.Update(fn)
}

// get finds key with a cursor so empty values are distinguishable from
// missing keys. The returned slice is a copy; bbolt memory is only valid
// inside the transaction.
func get(b *bbolt.Bucket, key string) ([]byte, error) {
	k, v := b.Cursor().Seek([]byte(key))
	if k == nil || !bytes.Equal(k, []byte(key)) || (v == nil && b.Bucket(k) != nil) {
		return nil, storage.ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func del(b *bbolt.Bucket, key string) error {
	if _, err := get(b, key); err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

func list(b *bbolt.Bucket, prefix string) []string {
	keys := make([]string, 0)
	c := b.Cursor()
	p := []byte(prefix)
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		keys = append(keys, string(k))
	}
	return keys
}

// txn adapts a bbolt bucket to storage.Txn.
type txn struct {
	b    *bbolt.Bucket
	done bool
}

func (t *txn) Get(key string) ([]byte, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}
	return get(t.b, key)
}

func (t *txn) Put(key string, value []byte) error {
	if t.done {
		return storage.ErrTxDone
	}
	if key == "" {
		return storage.ErrInvalidKey
	}
	// bbolt keeps a reference to value until commit.
	return t.b.Put([]byte(key), append([]byte{}, value...))
}

func (t *txn) Delete(key string) error {
	if t.done {
		return storage.ErrTxDone
	}
	return del(t.b, key)
}

func (t *txn) List(prefix string) ([]string, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}
	return list(t.b, prefix), nil
}
