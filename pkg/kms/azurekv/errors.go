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

package azurekv

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("azurekv: invalid configuration")

	// ErrInvalidVaultURL is returned when an invalid vault URL is specified.
	ErrInvalidVaultURL = errors.New("azurekv: invalid vault URL")

	// ErrUnsuitableKey is returned when the named key is not an enabled
	// 256-bit oct-HSM key.
	ErrUnsuitableKey = errors.New("azurekv: key is not an enabled oct-HSM encryption key")

	// ErrMalformedPlaintext is returned when a decrypted payload lacks the
	// expected format prefix.
	ErrMalformedPlaintext = errors.New("azurekv: malformed plaintext envelope")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("azurekv: key manager closed")
)
