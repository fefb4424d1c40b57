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

//go:build azurekv

package provider

import (
	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/kms/azurekv"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

func init() { compiled[kms.ProviderAzureKV] = true }

func newAzureKV(cfg *config.AzureKVConfig, logger logging.Logger) (kms.KeyManager, error) {
	if cfg == nil {
		return nil, missingBlock(kms.ProviderAzureKV)
	}
	zc := &azurekv.Config{
		VaultURL:     cfg.VaultURL,
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}
	km, err := azurekv.New(zc)
	if err != nil {
		return nil, wrapNew(kms.ProviderAzureKV, err)
	}
	logger.Info("Azure Key Vault key manager initialized", logging.String("vault_url", cfg.VaultURL))
	return km, nil
}
