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
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/kms/software"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/storage/file"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

func init() { compiled[kms.ProviderSoftware] = true }

func newSoftware(cfg *config.SoftwareConfig, entries storage.Backend) (kms.KeyManager, func() error, error) {
	if cfg == nil {
		cfg = &config.SoftwareConfig{}
	}

	keyStorage := entries
	closer := func() error { return nil }
	if cfg.KeyPath != "" {
		fs, err := file.New(cfg.KeyPath)
		if err != nil {
			return nil, nil, wrapNew(kms.ProviderSoftware, err)
		}
		keyStorage = fs
		closer = fs.Close
	}
	if keyStorage == nil {
		return nil, nil, types.InvalidConfiguration("provider.new_key_manager", "software provider needs a key storage backend")
	}

	sc := &software.Config{
		KeyStorage: keyStorage,
		Algorithm:  software.Algorithm(cfg.Algorithm),
	}
	if cfg.Password != "" {
		sc.Password = []byte(cfg.Password)
	}
	km, err := software.New(sc)
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return km, closer, nil
}
