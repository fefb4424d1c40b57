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
	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/storage/badger"
	"github.com/jeremyhahn/go-encstore/pkg/storage/bolt"
	"github.com/jeremyhahn/go-encstore/pkg/storage/file"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// NewStorage opens the entry backend named by cfg.Backend.
func NewStorage(cfg config.StorageConfig) (storage.Backend, error) {
	var (
		b   storage.Backend
		err error
	)
	switch cfg.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "file":
		b, err = file.New(cfg.Path)
	case "bolt":
		b, err = bolt.Open(bolt.Config{Path: cfg.Path, Bucket: cfg.Bucket})
	case "badger":
		b, err = badger.Open(badger.Config{Dir: cfg.Path, SyncWrites: cfg.SyncWrites})
	default:
		return nil, types.InvalidConfiguration("provider.new_storage", "unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "provider.new_storage", err)
	}
	return b, nil
}
