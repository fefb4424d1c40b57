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

package storage_test

import (
	"testing"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return storage.NewMemory()
	})
}

func TestWatchableBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return storage.NewWatchable(storage.NewMemory(), 0)
	})
}

func TestMemoryRejectsEmptyKey(t *testing.T) {
	b := storage.NewMemory()
	assert.ErrorIs(t, b.Put("", []byte("v"), nil), storage.ErrInvalidKey)
}

func TestStagedTxnFinished(t *testing.T) {
	var leaked storage.Txn
	b := storage.NewMemory()
	require.NoError(t, b.Update(func(tx storage.Txn) error {
		leaked = tx
		return nil
	}))

	assert.ErrorIs(t, leaked.Put("k", []byte("v")), storage.ErrTxDone)
	_, err := leaked.Get("k")
	assert.ErrorIs(t, err, storage.ErrTxDone)
}

func TestStagedTxnLastWriteWins(t *testing.T) {
	b := storage.NewMemory()
	require.NoError(t, b.Update(func(tx storage.Txn) error {
		require.NoError(t, tx.Put("k", []byte("1")))
		require.NoError(t, tx.Put("k", []byte("2")))
		require.NoError(t, tx.Delete("k"))
		return tx.Put("k", []byte("3"))
	}))

	got, err := b.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}
