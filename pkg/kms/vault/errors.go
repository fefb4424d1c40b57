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

//go:build vault

package vault

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("vault: invalid configuration")

	// ErrVaultConnection is returned when unable to connect to Vault
	ErrVaultConnection = errors.New("vault: connection failed")

	// ErrInvalidResponse is returned when Vault returns an unexpected response
	ErrInvalidResponse = errors.New("vault: invalid response")

	// ErrUnsuitableKey is returned when the transit key exists with a type
	// other than aes256-gcm96.
	ErrUnsuitableKey = errors.New("vault: transit key is not aes256-gcm96")

	// ErrMalformedPlaintext is returned when a decrypted payload lacks the
	// expected format prefix.
	ErrMalformedPlaintext = errors.New("vault: malformed plaintext envelope")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vault: key manager closed")
)
