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

package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryBackend provides an in-memory storage implementation.
// This is useful for testing and ephemeral storage needs.
// Thread-safe using a read-write mutex.
type MemoryBackend struct {
	data   map[string][]byte
	mu     sync.RWMutex
	closed bool
}

// NewMemory creates a new in-memory storage backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

// Get retrieves the value for the given key.
func (m *MemoryBackend) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.get(key)
}

// Put stores the value for the given key.
func (m *MemoryBackend) Put(key string, value []byte, opts *Options) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	// Store a copy to prevent modification
	m.data[key] = append([]byte{}, value...)
	return nil
}

// Delete removes the key and its value from storage.
func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if _, exists := m.data[key]; !exists {
		return ErrNotFound
	}

	delete(m.data, key)
	return nil
}

// List returns all keys with the given prefix.
func (m *MemoryBackend) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.list(prefix)
}

// Exists checks if a key exists in storage.
func (m *MemoryBackend) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}

	_, exists := m.data[key]
	return exists, nil
}

// Update runs fn against a staged view of the map and applies its writes
// atomically. Other writers are blocked for the duration of fn.
func (m *MemoryBackend) Update(fn func(tx Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	tx := NewStagedTxn(memoryReader{m})
	err := fn(tx)
	tx.Finish()
	if err != nil {
		return err
	}
	for _, op := range tx.Ops() {
		if op.Delete {
			delete(m.data, op.Key)
			continue
		}
		m.data[op.Key] = op.Value
	}
	return nil
}

// Close releases any resources held by the backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.data = nil
	return nil
}

func (m *MemoryBackend) get(key string) ([]byte, error) {
	value, exists := m.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	// Return a copy to prevent modification
	return append([]byte{}, value...), nil
}

func (m *MemoryBackend) list(prefix string) ([]string, error) {
	keys := make([]string, 0)
	for key := range m.data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// memoryReader reads the map without locking; Update already holds the
// write lock.
type memoryReader struct {
	m *MemoryBackend
}

func (r memoryReader) Get(key string) ([]byte, error)       { return r.m.get(key) }
func (r memoryReader) List(prefix string) ([]string, error) { return r.m.list(prefix) }
