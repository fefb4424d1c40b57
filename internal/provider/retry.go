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

package provider

import (
	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/retry"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// NewRetryPolicy builds the backoff policy for provider calls. Each
// retry is logged at debug with the fault kind and the chosen delay.
func NewRetryPolicy(cfg config.RetryConfig, logger logging.Logger) (*retry.ExponentialBackoff, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	return retry.New(
		retry.WithMaxAttempts(cfg.MaxAttempts),
		retry.WithBaseDelay(cfg.BaseDelay),
		retry.WithMaxDelay(cfg.MaxDelay),
		retry.WithObserver(func(a retry.Attempt) {
			logger.Debug("provider fault, backing off",
				logging.Int("attempt", a.Index+1),
				logging.Duration("delay", a.Delay),
				logging.String("kind", types.KindOf(a.Err).String()))
		}),
	)
}
