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

//go:build vault

package provider

import (
	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/kms/vault"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

func init() { compiled[kms.ProviderVault] = true }

func newVault(cfg *config.VaultConfig, logger logging.Logger) (kms.KeyManager, error) {
	if cfg == nil {
		return nil, missingBlock(kms.ProviderVault)
	}
	vc := &vault.Config{
		Address:       cfg.Address,
		Token:         cfg.Token,
		TransitPath:   cfg.TransitPath,
		Namespace:     cfg.Namespace,
		TLSSkipVerify: cfg.TLSSkipVerify,
	}
	km, err := vault.New(vc)
	if err != nil {
		return nil, wrapNew(kms.ProviderVault, err)
	}
	logger.Info("Vault transit key manager initialized", logging.String("config", vc.String()))
	return km, nil
}
