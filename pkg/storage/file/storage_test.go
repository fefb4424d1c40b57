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

package file

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/storage/storagetest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorageOS(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStorageMemMapFs(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := NewWithFs(afero.NewMemMapFs(), "/data")
		require.NoError(t, err)
		return s
	})
}

func TestNewEmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestNewCreatesNestedRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "subdir", "nested")
	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidateStorageKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"simple", true},
		{"keys/master.key", true},
		{"5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8", true},
		{"", false},
		{"/etc/passwd", false},
		{"..", false},
		{"../escape", false},
		{"keys/../../escape", false},
		{"keys/..", false},
		{"nul\x00byte", false},
		{".encstore-123", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateStorageKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	s, err := NewWithFs(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Put("../escape", []byte("x"), nil), storage.ErrInvalidKey)
	_, err = s.Get("../escape")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestNestedKeysRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewWithFs(fsys, "/data")
	require.NoError(t, err)

	require.NoError(t, s.Put("keys/a/b.key", []byte("nested"), nil))
	ok, err := afero.Exists(fsys, "/data/keys/a/b.key")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := s.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/a/b.key"}, keys)
}

func TestListSkipsTempFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewWithFs(fsys, "/data")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/data/.encstore-leftover", []byte("x"), 0600))
	require.NoError(t, s.Put("real", []byte("v"), nil))

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"real"}, keys)
}

func TestFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put("default", []byte("v"), nil))
	require.NoError(t, s.Put("custom", []byte("v"), &storage.Options{Permissions: 0640}))

	info, err := os.Stat(filepath.Join(dir, "default"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dir, "custom"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v"), nil))
	require.NoError(t, s.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	got, err := reopened.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
