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

//go:build !azurekv

package provider

import (
	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

// newAzureKV is a stub when Azure Key Vault support is not compiled in
func newAzureKV(*config.AzureKVConfig, logging.Logger) (kms.KeyManager, error) {
	return nil, notCompiled(kms.ProviderAzureKV)
}
