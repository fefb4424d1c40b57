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

// Package store is the encrypted key-value store. Each entry is kept
// under the storage identifier derived from its logical name, and its
// value is the base64 ciphertext of the plaintext sealed with that
// identifier as associated data. Logical names are never persisted.
//
// Example:
//
//	s, err := store.New(backend, mgr)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := store.PutValue(ctx, s, "retries", 5, codec.Int); err != nil {
//	    return err
//	}
//	n, err := store.GetValue(ctx, s, "retries", codec.Int)
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/keyid"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/metrics"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// ErrNotFound is returned by Get when no entry exists for a name.
var ErrNotFound = errors.New("store: not found")

// Crypto is the subset of *manager.Manager the store needs.
type Crypto interface {
	Hash(name string) keyid.ID
	EncryptBytes(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	DecryptBytes(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

// Result is one observation delivered by Watch. Present is false when
// the entry does not exist. Err is set when the stored value could not be
// read or decrypted; the watch continues after an error.
type Result struct {
	Value   []byte
	Present bool
	Err     error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards output.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBackendName sets the backend label used in metrics.
func WithBackendName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.backendName = name
		}
	}
}

// WithWatchBuffer sets the per-watch event buffer when the store wraps
// the backend for change notification.
func WithWatchBuffer(n int) Option {
	return func(s *Store) { s.watchBuffer = n }
}

// Store is an encrypted key-value store over a storage.Backend. It takes
// ownership of the backend: Close closes it. All writes to the backend
// must go through the Store for Watch to observe them.
type Store struct {
	backend     *storage.Watchable
	crypto      Crypto
	logger      logging.Logger
	backendName string
	watchBuffer int
}

// New creates a Store. A backend that is not already a
// *storage.Watchable is wrapped in one.
func New(backend storage.Backend, crypto Crypto, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, types.InvalidConfiguration("store.new", "a storage backend is required")
	}
	if crypto == nil {
		return nil, types.InvalidConfiguration("store.new", "a crypto manager is required")
	}

	s := &Store{
		crypto:      crypto,
		logger:      logging.NewNop(),
		backendName: "custom",
	}
	for _, opt := range opts {
		opt(s)
	}

	if w, ok := backend.(*storage.Watchable); ok {
		s.backend = w
	} else {
		s.backend = storage.NewWatchable(backend, s.watchBuffer)
	}
	s.logger = s.logger.With(logging.String("backend", s.backendName))
	return s, nil
}

// Put encrypts value and stores it under name, replacing any existing
// entry.
func (s *Store) Put(ctx context.Context, name string, value []byte) (err error) {
	defer s.observe(metrics.OpPut, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	id := s.crypto.Hash(name)
	ct, err := s.crypto.EncryptBytes(ctx, value, id.AAD())
	if err != nil {
		return err
	}
	if err := s.backend.Put(id.String(), []byte(base64.StdEncoding.EncodeToString(ct)), storage.DefaultOptions()); err != nil {
		return fmt.Errorf("store: failed to write entry %s: %w", id, err)
	}
	s.logger.DebugContext(ctx, "entry stored", logging.String("id", id.String()))
	return nil
}

// Get returns the decrypted value stored under name, or ErrNotFound.
// A value that fails authentication, including one moved from another
// entry, returns a types.KindAuthentication error.
func (s *Store) Get(ctx context.Context, name string) (value []byte, err error) {
	defer s.observe(metrics.OpGet, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := s.crypto.Hash(name)
	raw, err := s.backend.Get(id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read entry %s: %w", id, err)
	}
	return s.open(ctx, id, raw)
}

// Contains reports whether an entry exists for name. It does not decrypt.
func (s *Store) Contains(ctx context.Context, name string) (ok bool, err error) {
	defer s.observe(metrics.OpContains, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err = s.backend.Exists(s.crypto.Hash(name).String())
	if err != nil {
		return false, fmt.Errorf("store: failed to check entry: %w", err)
	}
	return ok, nil
}

// Remove deletes the entry for name. Removing a missing entry is not an
// error.
func (s *Store) Remove(ctx context.Context, name string) (err error) {
	defer s.observe(metrics.OpRemove, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	id := s.crypto.Hash(name)
	if err := s.backend.Delete(id.String()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("store: failed to remove entry %s: %w", id, err)
	}
	return nil
}

// Clear removes every entry in one transaction. Keys that are not
// storage identifiers, such as software master key records sharing the
// backend, are left alone.
func (s *Store) Clear(ctx context.Context) (err error) {
	defer s.observe(metrics.OpClear, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	removed := 0
	err = s.backend.Update(func(tx storage.Txn) error {
		removed = 0
		keys, err := tx.List("")
		if err != nil {
			return err
		}
		for _, k := range keys {
			if !keyid.IsValid(k) {
				continue
			}
			if err := tx.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: failed to clear: %w", err)
	}
	s.logger.InfoContext(ctx, "store cleared", logging.Int("removed", removed))
	return nil
}

// Count returns the number of entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keys, err := s.backend.List("")
	if err != nil {
		return 0, fmt.Errorf("store: failed to list entries: %w", err)
	}
	n := 0
	for _, k := range keys {
		if keyid.IsValid(k) {
			n++
		}
	}
	metrics.SetEntriesTotal(s.backendName, float64(n))
	return n, nil
}

// Watch delivers the current state of name and then one Result per
// change, until ctx is done or the store is closed, at which point the
// channel is closed. If events were dropped because the reader fell
// behind, the current state is re-read and delivered.
func (s *Store) Watch(ctx context.Context, name string) (<-chan Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := s.crypto.Hash(name)
	ctx, cancel := context.WithCancel(ctx)
	events, err := s.backend.Subscribe(ctx, id.String())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store: failed to watch: %w", err)
	}

	out := make(chan Result, 1)
	metrics.WatchOpened()
	go func() {
		defer metrics.WatchClosed()
		defer close(out)
		defer cancel()

		if !s.send(ctx, out, s.current(ctx, id)) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				var r Result
				switch ev.Type {
				case storage.EventPut:
					if ev.Key != id.String() {
						continue
					}
					r = s.decode(ctx, id, ev.Value)
				case storage.EventDelete:
					if ev.Key != id.String() {
						continue
					}
					r = Result{}
				case storage.EventResync:
					r = s.current(ctx, id)
				default:
					continue
				}
				if !s.send(ctx, out, r) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying backend and ends all watches.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Store) current(ctx context.Context, id keyid.ID) Result {
	raw, err := s.backend.Get(id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}
	}
	if err != nil {
		return Result{Err: fmt.Errorf("store: failed to read entry %s: %w", id, err)}
	}
	return s.decode(ctx, id, raw)
}

func (s *Store) decode(ctx context.Context, id keyid.ID, raw []byte) Result {
	v, err := s.open(ctx, id, raw)
	if err != nil {
		return Result{Present: true, Err: err}
	}
	return Result{Value: v, Present: true}
}

func (s *Store) open(ctx context.Context, id keyid.ID, raw []byte) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, types.AuthenticationFailure("store.get", errors.Join(aead.ErrMalformedCiphertext, err))
	}
	return s.crypto.DecryptBytes(ctx, ct, id.AAD())
}

func (s *Store) observe(op string, start time.Time, errp *error) {
	status := metrics.StatusSuccess
	if err := *errp; err != nil && !errors.Is(err, ErrNotFound) {
		status = metrics.StatusError
	}
	metrics.RecordOperation(op, s.backendName, status, time.Since(start).Seconds())
}
