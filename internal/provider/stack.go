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
	"errors"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/keyid"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/manager"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/store"
)

// Stack is a configured store with the components behind it.
type Stack struct {
	Store      *store.Store
	Manager    *manager.Manager
	KeyManager kms.KeyManager
	Backend    *storage.Watchable

	closeKeys func() error
}

// Open builds the storage backend, key manager, retry policy and crypto
// manager described by cfg and provisions the master key. Everything
// opened so far is released when a later step fails.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Stack, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	backend, err := NewStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	w := storage.NewWatchable(backend, cfg.Storage.WatchBuffer)

	km, closeKeys, err := NewKeyManager(ctx, &cfg.KMS, w, logger)
	if err != nil {
		return nil, errors.Join(err, w.Close())
	}
	s := &Stack{KeyManager: km, Backend: w, closeKeys: closeKeys}

	policy, err := NewRetryPolicy(cfg.Crypto.Retry, logger)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	deriver, err := keyid.New(keyid.Algorithm(cfg.Crypto.Hash))
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}

	s.Manager, err = manager.New(ctx, &manager.Config{
		KeyManager: km,
		KeyAlias:   cfg.Crypto.KeyAlias,
		Retry:      policy,
		Deriver:    deriver,
		Logger:     logger,
		Provider:   cfg.KMS.Provider,
	})
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}

	s.Store, err = store.New(w, s.Manager,
		store.WithLogger(logger),
		store.WithBackendName(cfg.Storage.Backend),
		store.WithWatchBuffer(cfg.Storage.WatchBuffer))
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

// Close releases the key manager and closes the backend.
func (s *Stack) Close() error {
	var errs []error
	if s.KeyManager != nil {
		errs = append(errs, s.KeyManager.Close())
	}
	if s.closeKeys != nil {
		errs = append(errs, s.closeKeys())
	}
	if s.Backend != nil {
		errs = append(errs, s.Backend.Close())
	}
	return errors.Join(errs...)
}
