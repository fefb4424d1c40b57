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

// Package kms defines the key-management boundary of the encrypted store.
//
// A KeyManager provisions a named 256-bit master key on first use and
// hands back an aead.Primitive that encrypts under it. Raw key material
// never crosses this interface for the cloud and HSM providers.
//
// Providers:
//
//   - software: keys held in a storage.Backend, optionally password-wrapped
//   - awskms:   AWS KMS symmetric keys (build tag awskms)
//   - gcpkms:   Google Cloud KMS crypto keys (build tag gcpkms)
//   - azurekv:  Azure Key Vault Managed HSM keys (build tag azurekv)
//   - vault:    HashiCorp Vault Transit keys (build tag vault)
//   - pkcs11:   PKCS#11 tokens through crypto11 (build tag pkcs11)
package kms

import (
	"context"
	"regexp"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// Provider names a key-management implementation.
type Provider string

const (
	ProviderSoftware Provider = "software"
	ProviderAWSKMS   Provider = "awskms"
	ProviderGCPKMS   Provider = "gcpkms"
	ProviderAzureKV  Provider = "azurekv"
	ProviderVault    Provider = "vault"
	ProviderPKCS11   Provider = "pkcs11"
)

// String returns the provider name.
func (p Provider) String() string {
	return string(p)
}

// KeyManager supplies AEAD primitives bound to named master keys.
type KeyManager interface {
	// GetOrCreateKey returns a primitive for alias, creating a 256-bit
	// AEAD key under that alias if none exists. Concurrent calls for the
	// same alias must converge on one key.
	GetOrCreateKey(ctx context.Context, alias string) (aead.Primitive, error)

	// Close releases provider resources.
	Close() error
}

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// ValidateAlias checks that alias is usable by every provider: 1 to 63
// ASCII letters, digits, underscores or hyphens.
func ValidateAlias(alias string) error {
	if !aliasPattern.MatchString(alias) {
		return types.InvalidConfiguration("kms.alias", "invalid key alias %q", alias)
	}
	return nil
}
