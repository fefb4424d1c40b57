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

//go:build awskms

package provider

import (
	"context"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/kms/awskms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

func init() { compiled[kms.ProviderAWSKMS] = true }

func newAWSKMS(ctx context.Context, cfg *config.AWSKMSConfig, logger logging.Logger) (kms.KeyManager, error) {
	if cfg == nil {
		return nil, missingBlock(kms.ProviderAWSKMS)
	}
	ac := &awskms.Config{
		Region:            cfg.Region,
		AccessKeyID:       cfg.AccessKeyID,
		SecretAccessKey:   cfg.SecretAccessKey,
		SessionToken:      cfg.SessionToken,
		Endpoint:          cfg.Endpoint,
		PendingWindowDays: cfg.PendingWindowDays,
		Logger:            logger,
	}
	km, err := awskms.New(ctx, ac)
	if err != nil {
		return nil, wrapNew(kms.ProviderAWSKMS, err)
	}
	logger.Info("AWS KMS key manager initialized", logging.String("config", ac.String()))
	return km, nil
}
