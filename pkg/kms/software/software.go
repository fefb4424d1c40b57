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

// Package software implements kms.KeyManager with key material held in a
// storage.Backend. Keys are 256-bit, generated from crypto/rand and
// optionally wrapped under a password with Argon2id and AES-256-GCM.
//
// This provider is intended for development, tests and deployments that
// already protect the storage substrate. Use a cloud or HSM provider when
// key material must not be readable by the process.
package software

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const recordVersion = 1

// keyRecord is the JSON document stored at storage.KeyPath(alias).
type keyRecord struct {
	Version   int       `json:"version"`
	Algorithm Algorithm `json:"algorithm"`
	CreatedAt time.Time `json:"created_at"`
	Protected bool      `json:"protected"`
	Key       []byte    `json:"key"`
}

// KeyManager is a software kms.KeyManager.
type KeyManager struct {
	config *Config

	mu     sync.Mutex
	keys   map[string]aead.Primitive
	closed bool
}

var _ kms.KeyManager = (*KeyManager)(nil)

// New creates a software key manager.
func New(config *Config) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "software.new", err)
	}
	cfg := *config
	if cfg.Algorithm == "" {
		cfg.Algorithm = AES256GCM
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	return &KeyManager{
		config: &cfg,
		keys:   make(map[string]aead.Primitive),
	}, nil
}

// GetOrCreateKey returns the primitive for alias, generating and
// persisting a new key inside a storage transaction when none exists.
// Creation is serialized within the process; processes sharing a
// backend converge through the backend's transaction.
func (m *KeyManager) GetOrCreateKey(ctx context.Context, alias string) (aead.Primitive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := kms.ValidateAlias(alias); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if prim, ok := m.keys[alias]; ok {
		return prim, nil
	}

	path := storage.KeyPath(alias)
	var rec *keyRecord
	err := m.config.KeyStorage.Update(func(tx storage.Txn) error {
		data, err := tx.Get(path)
		if err == nil {
			rec, err = decodeRecord(data)
			return err
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("software: failed to read key %q: %w", alias, err)
		}

		rec, data, err = m.newRecord()
		if err != nil {
			return err
		}
		return tx.Put(path, data)
	})
	if err != nil {
		return nil, classify("software.get_or_create_key", err)
	}

	prim, err := m.open(rec)
	if err != nil {
		return nil, classify("software.get_or_create_key", err)
	}
	m.keys[alias] = prim
	return prim, nil
}

// Aliases lists the aliases with stored key records.
func (m *KeyManager) Aliases() ([]string, error) {
	return storage.ListKeys(m.config.KeyStorage)
}

// Close drops cached primitives. The key storage is owned by the caller
// and is not closed.
func (m *KeyManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.keys = nil
	return nil
}

func (m *KeyManager) newRecord() (*keyRecord, []byte, error) {
	key := make([]byte, aead.KeySize)
	if _, err := io.ReadFull(m.config.Rand, key); err != nil {
		return nil, nil, types.ProviderFault("software.generate", err)
	}

	rec := &keyRecord{
		Version:   recordVersion,
		Algorithm: m.config.Algorithm,
		CreatedAt: time.Now().UTC(),
		Key:       key,
	}
	if len(m.config.Password) > 0 {
		wrapped, err := wrapKey(key, m.config.Password, m.config.Rand)
		if err != nil {
			return nil, nil, types.ProviderFault("software.wrap", err)
		}
		rec.Protected = true
		rec.Key = wrapped
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("software: failed to encode key record: %w", err)
	}
	// Keep the plaintext key for immediate use.
	rec.Key = key
	rec.Protected = false
	return rec, data, nil
}

func (m *KeyManager) open(rec *keyRecord) (aead.Primitive, error) {
	key := rec.Key
	if rec.Protected {
		if len(m.config.Password) == 0 {
			return nil, ErrPasswordRequired
		}
		var err error
		key, err = unwrapKey(rec.Key, m.config.Password)
		if err != nil {
			return nil, err
		}
	}

	switch rec.Algorithm {
	case AES256GCM:
		return aead.NewAESGCM(key)
	case XChaCha20Poly1305:
		return aead.NewXChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrCorruptKeyRecord, rec.Algorithm)
	}
}

func decodeRecord(data []byte) (*keyRecord, error) {
	var rec keyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKeyRecord, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptKeyRecord, rec.Version)
	}
	return &rec, nil
}

// classify marks password and record problems as configuration errors.
// Storage failures stay unclassified.
func classify(op string, err error) error {
	if types.KindOf(err) != types.KindUnknown {
		return err
	}
	switch {
	case errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrPasswordRequired),
		errors.Is(err, ErrCorruptKeyRecord),
		errors.Is(err, aead.ErrInvalidKeySize):
		return types.New(types.KindInvalidConfiguration, op, err)
	}
	return err
}
