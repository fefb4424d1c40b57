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

// Package provider builds the key manager, storage backend and retry
// policy described by a config.Config and assembles them into a Stack.
//
// Cloud and HSM providers are compiled in with build tags (awskms,
// gcpkms, azurekv, vault, pkcs11). Selecting a provider that was not
// compiled in fails with an invalid configuration error.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// compiled records which providers this binary was built with. Each
// provider file sets its own entry from init.
var compiled = map[kms.Provider]bool{}

// Compiled returns the providers built into this binary, sorted.
func Compiled() []string {
	names := make([]string, 0, len(compiled))
	for p, ok := range compiled {
		if ok {
			names = append(names, p.String())
		}
	}
	sort.Strings(names)
	return names
}

// NewKeyManager builds the key manager selected by cfg.Provider. The
// software provider keeps key records in entries unless its key_path is
// set. The returned closer releases resources the provider opened on its
// own; it never closes entries.
func NewKeyManager(ctx context.Context, cfg *config.KMSConfig, entries storage.Backend, logger logging.Logger) (kms.KeyManager, func() error, error) {
	if cfg == nil {
		return nil, nil, types.InvalidConfiguration("provider.new_key_manager", "kms configuration is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	noop := func() error { return nil }

	p := kms.Provider(strings.ToLower(cfg.Provider))
	var (
		km  kms.KeyManager
		err error
	)
	switch p {
	case kms.ProviderSoftware:
		var closer func() error
		km, closer, err = newSoftware(cfg.Software, entries)
		if err == nil {
			logger.Info("software key manager initialized", logging.Bool("password_protected", cfg.Software != nil && cfg.Software.Password != ""))
			return km, closer, nil
		}
	case kms.ProviderAWSKMS:
		km, err = newAWSKMS(ctx, cfg.AWSKMS, logger)
	case kms.ProviderGCPKMS:
		km, err = newGCPKMS(ctx, cfg.GCPKMS, logger)
	case kms.ProviderAzureKV:
		km, err = newAzureKV(cfg.AzureKV, logger)
	case kms.ProviderVault:
		km, err = newVault(cfg.Vault, logger)
	case kms.ProviderPKCS11:
		km, err = newPKCS11(cfg.PKCS11, logger)
	default:
		return nil, nil, types.InvalidConfiguration("provider.new_key_manager", "unknown kms provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, nil, err
	}
	return km, noop, nil
}

// notCompiled is returned by the stub factories.
func notCompiled(p kms.Provider) error {
	return types.InvalidConfiguration("provider.new_key_manager",
		"%s provider selected but not compiled in (use -tags %s)", p, p)
}

// missingBlock is returned when the selected provider has no settings.
func missingBlock(p kms.Provider) error {
	return types.InvalidConfiguration("provider.new_key_manager", "kms.%s settings are required", p)
}

// wrapNew classifies constructor failures that the provider left
// unclassified as configuration errors.
func wrapNew(p kms.Provider, err error) error {
	if types.KindOf(err) != types.KindUnknown {
		return err
	}
	return types.New(types.KindInvalidConfiguration, "provider.new_key_manager", fmt.Errorf("%s: %w", p, err))
}
