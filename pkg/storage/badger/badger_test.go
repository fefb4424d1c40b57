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

package badger

import (
	"testing"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerInMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		return s
	})
}

func TestBadgerOnDisk(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := Open(Config{Dir: t.TempDir()})
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v"), nil))
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
