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

//go:build !awskms

package provider

import (
	"context"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

// newAWSKMS is a stub when AWS KMS support is not compiled in
func newAWSKMS(context.Context, *config.AWSKMSConfig, logging.Logger) (kms.KeyManager, error) {
	return nil, notCompiled(kms.ProviderAWSKMS)
}
