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

package bolt

import (
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := Open(Config{Path: filepath.Join(t.TempDir(), "store.db")})
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestBucketsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.db")

	a, err := Open(Config{Path: path, Bucket: "a"})
	require.NoError(t, err)
	require.NoError(t, a.Put("k", []byte("from-a"), nil))
	require.NoError(t, a.Close())

	b, err := Open(Config{Path: path, Bucket: "b"})
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Get("k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v"), nil))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
