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

package pkcs11

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("pkcs11: invalid configuration")

	// ErrLibraryNotFound is returned when the PKCS#11 library cannot be found.
	ErrLibraryNotFound = errors.New("pkcs11: library not found")

	// ErrInvalidPINLength is returned when the user PIN is too short.
	// PKCS#11 typically requires PINs to be at least 4 characters.
	ErrInvalidPINLength = errors.New("pkcs11: invalid pin length, must be at least 4 characters")

	// ErrSealFailed is returned when the token fails during encryption.
	ErrSealFailed = errors.New("pkcs11: token failed to encrypt")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pkcs11: key manager closed")
)
