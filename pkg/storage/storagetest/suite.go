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

// Package storagetest provides a conformance suite that every
// storage.Backend implementation runs from its own tests.
package storagetest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Backend

// Run executes the conformance suite against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"GetPut", testGetPut},
		{"GetMissing", testGetMissing},
		{"Overwrite", testOverwrite},
		{"EmptyValue", testEmptyValue},
		{"Delete", testDelete},
		{"Exists", testExists},
		{"List", testList},
		{"UpdateCommit", testUpdateCommit},
		{"UpdateRollback", testUpdateRollback},
		{"UpdateReadsOwnWrites", testUpdateReadsOwnWrites},
		{"Concurrent", testConcurrent},
		{"ValueIsolation", testValueIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			defer b.Close()
			tt.fn(t, b)
		})
	}

	t.Run("Closed", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Close())
		_, err := b.Get("k")
		assert.ErrorIs(t, err, storage.ErrClosed)
		assert.ErrorIs(t, b.Put("k", []byte("v"), nil), storage.ErrClosed)
		assert.NoError(t, b.Close(), "double close must be safe")
	})
}

func testGetPut(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Put("alpha", []byte("one"), nil))
	got, err := b.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)
}

func testGetMissing(t *testing.T, b storage.Backend) {
	_, err := b.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testOverwrite(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Put("k", []byte("v1"), nil))
	require.NoError(t, b.Put("k", []byte("v2"), storage.DefaultOptions()))
	got, err := b.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func testEmptyValue(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Put("empty", []byte{}, nil))
	got, err := b.Get("empty")
	require.NoError(t, err)
	assert.Empty(t, got)
	ok, err := b.Exists("empty")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testDelete(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Put("k", []byte("v"), nil))
	require.NoError(t, b.Delete("k"))
	_, err := b.Get("k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, b.Delete("k"), storage.ErrNotFound)
}

func testExists(t *testing.T, b storage.Backend) {
	ok, err := b.Exists("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Put("k", []byte("v"), nil))
	ok, err = b.Exists("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testList(t *testing.T, b storage.Backend) {
	for _, k := range []string{"keys/b.key", "keys/a.key", "entry1", "entry2"} {
		require.NoError(t, b.Put(k, []byte(k), nil))
	}

	all, err := b.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"entry1", "entry2", "keys/a.key", "keys/b.key"}, all)

	keys, err := b.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/a.key", "keys/b.key"}, keys)

	none, err := b.List("nothing/")
	require.NoError(t, err)
	assert.Empty(t, none)

	aliases, err := storage.ListKeys(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, aliases)
}

func testUpdateCommit(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Put("old", []byte("x"), nil))

	err := b.Update(func(tx storage.Txn) error {
		if err := tx.Put("a", []byte("1")); err != nil {
			return err
		}
		if err := tx.Put("b", []byte("2")); err != nil {
			return err
		}
		return tx.Delete("old")
	})
	require.NoError(t, err)

	keys, err := b.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func testUpdateRollback(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Put("keep", []byte("x"), nil))
	boom := errors.New("boom")

	err := b.Update(func(tx storage.Txn) error {
		if err := tx.Put("a", []byte("1")); err != nil {
			return err
		}
		if err := tx.Delete("keep"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	keys, err := b.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, keys)
}

func testUpdateReadsOwnWrites(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Put("base", []byte("b"), nil))

	err := b.Update(func(tx storage.Txn) error {
		require.NoError(t, tx.Put("staged", []byte("s")))
		got, err := tx.Get("staged")
		require.NoError(t, err)
		assert.Equal(t, []byte("s"), got)

		require.NoError(t, tx.Delete("base"))
		_, err = tx.Get("base")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, tx.Delete("base"), storage.ErrNotFound)

		keys, err := tx.List("")
		require.NoError(t, err)
		assert.Equal(t, []string{"staged"}, keys)
		return nil
	})
	require.NoError(t, err)
}

func testConcurrent(t *testing.T, b storage.Backend) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%02d", i)
			assert.NoError(t, b.Put(key, []byte(key), nil))
			got, err := b.Get(key)
			assert.NoError(t, err)
			assert.Equal(t, []byte(key), got)
		}(i)
	}
	wg.Wait()

	keys, err := b.List("k")
	require.NoError(t, err)
	assert.Len(t, keys, 16)
}

func testValueIsolation(t *testing.T, b storage.Backend) {
	v := []byte("value")
	require.NoError(t, b.Put("k", v, nil))
	v[0] = 'X'

	got, err := b.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	got[0] = 'Y'
	again, err := b.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}
