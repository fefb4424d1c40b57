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

package aead

import "errors"

var (
	// ErrAuthentication is returned when the integrity tag does not verify.
	ErrAuthentication = errors.New("aead: message authentication failed")

	// ErrMalformedCiphertext is returned when a ciphertext is too short to
	// contain a nonce and tag, or is not validly encoded.
	ErrMalformedCiphertext = errors.New("aead: malformed ciphertext")

	// ErrInvalidKeySize is returned when a key is not 256 bits.
	ErrInvalidKeySize = errors.New("aead: invalid key size")

	// ErrNonceGeneration is returned when the random source fails.
	ErrNonceGeneration = errors.New("aead: nonce generation failed")
)
