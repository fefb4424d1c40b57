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

//go:build !awskms && !gcpkms && !azurekv && !vault && !pkcs11

package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

func TestProvidersNotCompiledIn(t *testing.T) {
	cfg := &config.KMSConfig{
		AWSKMS:  &config.AWSKMSConfig{},
		GCPKMS:  &config.GCPKMSConfig{},
		AzureKV: &config.AzureKVConfig{},
		Vault:   &config.VaultConfig{},
		PKCS11:  &config.PKCS11Config{},
	}
	for _, p := range []string{"awskms", "gcpkms", "azurekv", "vault", "pkcs11"} {
		t.Run(p, func(t *testing.T) {
			cfg.Provider = p
			_, _, err := NewKeyManager(context.Background(), cfg, nil, nil)
			assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
			assert.Contains(t, err.Error(), "-tags "+p)
		})
	}
	assert.Equal(t, []string{"software"}, Compiled())
}
