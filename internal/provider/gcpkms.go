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

//go:build gcpkms

package provider

import (
	"context"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/kms/gcpkms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

func init() { compiled[kms.ProviderGCPKMS] = true }

func newGCPKMS(ctx context.Context, cfg *config.GCPKMSConfig, logger logging.Logger) (kms.KeyManager, error) {
	if cfg == nil {
		return nil, missingBlock(kms.ProviderGCPKMS)
	}
	gc := &gcpkms.Config{
		ProjectID:       cfg.ProjectID,
		LocationID:      cfg.LocationID,
		KeyRingID:       cfg.KeyRingID,
		CredentialsFile: cfg.CredentialsFile,
		Endpoint:        cfg.Endpoint,
		HSM:             cfg.HSM,
	}
	km, err := gcpkms.New(ctx, gc)
	if err != nil {
		return nil, wrapNew(kms.ProviderGCPKMS, err)
	}
	logger.Info("GCP KMS key manager initialized", logging.String("key_ring", gc.KeyRingName()))
	return km, nil
}
