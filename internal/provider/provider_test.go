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

package provider

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms/software"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/store"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Backend: "memory"}
	return cfg
}

func TestCompiledIncludesSoftware(t *testing.T) {
	assert.Contains(t, Compiled(), "software")
}

func TestNewStorage(t *testing.T) {
	dir := t.TempDir()
	tests := []config.StorageConfig{
		{Backend: "memory"},
		{Backend: "file", Path: filepath.Join(dir, "file")},
		{Backend: "bolt", Path: filepath.Join(dir, "store.db")},
		{Backend: "badger", Path: filepath.Join(dir, "badger")},
	}
	for _, cfg := range tests {
		t.Run(cfg.Backend, func(t *testing.T) {
			b, err := NewStorage(cfg)
			require.NoError(t, err)
			require.NoError(t, b.Put("k", []byte("v"), nil))
			got, err := b.Get("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
			require.NoError(t, b.Close())
		})
	}
}

func TestNewStorageErrors(t *testing.T) {
	_, err := NewStorage(config.StorageConfig{Backend: "redis"})
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))

	_, err = NewStorage(config.StorageConfig{Backend: "bolt"})
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
}

func TestNewKeyManagerSoftware(t *testing.T) {
	entries := storage.NewMemory()
	km, closer, err := NewKeyManager(context.Background(), &config.KMSConfig{
		Provider: "software",
		Software: &config.SoftwareConfig{Algorithm: "xchacha20-poly1305"},
	}, entries, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closer()) }()

	_, err = km.GetOrCreateKey(context.Background(), "test_key")
	require.NoError(t, err)
	ok, err := entries.Exists(storage.KeyPath("test_key"))
	require.NoError(t, err)
	assert.True(t, ok, "key records share the entry backend by default")
}

func TestNewKeyManagerSoftwareSeparateKeyPath(t *testing.T) {
	entries := storage.NewMemory()
	keyDir := t.TempDir()
	km, closer, err := NewKeyManager(context.Background(), &config.KMSConfig{
		Provider: "software",
		Software: &config.SoftwareConfig{KeyPath: keyDir, Password: "pw"},
	}, entries, nil)
	require.NoError(t, err)

	_, err = km.GetOrCreateKey(context.Background(), "test_key")
	require.NoError(t, err)
	ok, err := entries.Exists(storage.KeyPath("test_key"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, km.Close())
	require.NoError(t, closer())
}

func TestNewKeyManagerErrors(t *testing.T) {
	ctx := context.Background()

	_, _, err := NewKeyManager(ctx, nil, nil, nil)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))

	_, _, err = NewKeyManager(ctx, &config.KMSConfig{Provider: "tpm2"}, nil, nil)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))

	_, _, err = NewKeyManager(ctx, &config.KMSConfig{Provider: "software"}, nil, nil)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))

	_, _, err = NewKeyManager(ctx, &config.KMSConfig{
		Provider: "software",
		Software: &config.SoftwareConfig{Algorithm: "des"},
	}, storage.NewMemory(), nil)
	assert.ErrorIs(t, err, software.ErrInvalidConfig)
}

func TestNewRetryPolicy(t *testing.T) {
	p, err := NewRetryPolicy(config.RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, p.MaxAttempts())
	assert.Equal(t, time.Millisecond, p.BaseDelay())

	_, err = NewRetryPolicy(config.RetryConfig{}, nil)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
}

func TestOpenStack(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memoryConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Store.Put(ctx, "password", []byte("SensitiveData123")))
	got, err := s.Store.Get(ctx, "password")
	require.NoError(t, err)
	assert.Equal(t, []byte("SensitiveData123"), got)
	assert.Equal(t, "software", s.Manager.Provider())
	assert.NoError(t, s.Manager.Probe(ctx))

	require.NoError(t, s.Close())
	_, err = s.Store.Get(ctx, "password")
	assert.Error(t, err)
}

func TestOpenPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Backend: "bolt", Path: filepath.Join(t.TempDir(), "store.db")}
	cfg.Crypto.Hash = "sha512-256"

	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Store.Put(ctx, "token", []byte("abc")))
	require.NoError(t, s.Close())

	s, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Store.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	_, err = s.Store.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenFailures(t *testing.T) {
	ctx := context.Background()

	cfg := memoryConfig()
	cfg.Crypto.Hash = "md5"
	_, err := Open(ctx, cfg, nil)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))

	cfg = memoryConfig()
	cfg.Crypto.KeyAlias = "../bad"
	_, err = Open(ctx, cfg, nil)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))

	cfg = memoryConfig()
	cfg.Storage.Backend = "nope"
	_, err = Open(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestStackUsesConfiguredAlgorithm(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.KMS.Software.Algorithm = "xchacha20-poly1305"
	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	ct, err := s.Manager.Encrypt(ctx, []byte("x"), "name")
	require.NoError(t, err)
	// XChaCha20 carries a 24-byte nonce, AES-GCM a 12-byte one.
	assert.Len(t, ct, 24+1+16)
}
