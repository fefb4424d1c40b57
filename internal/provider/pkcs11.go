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

//go:build pkcs11

package provider

import (
	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/kms/pkcs11"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

func init() { compiled[kms.ProviderPKCS11] = true }

func newPKCS11(cfg *config.PKCS11Config, logger logging.Logger) (kms.KeyManager, error) {
	if cfg == nil {
		return nil, missingBlock(kms.ProviderPKCS11)
	}
	pc := &pkcs11.Config{
		Library:     cfg.Library,
		PIN:         cfg.PIN,
		Slot:        cfg.Slot,
		TokenLabel:  cfg.TokenLabel,
		MaxSessions: cfg.MaxSessions,
	}
	km, err := pkcs11.New(pc)
	if err != nil {
		return nil, wrapNew(kms.ProviderPKCS11, err)
	}
	logger.Info("PKCS#11 key manager initialized",
		logging.String("library", cfg.Library),
		logging.Bool("softhsm", pc.IsSoftHSM()))
	return km, nil
}
