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

package awskms

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("awskms: invalid configuration")

	// ErrInvalidRegion is returned when an invalid AWS region is specified.
	ErrInvalidRegion = errors.New("awskms: invalid region")

	// ErrUnsuitableKey is returned when the alias points at a key that
	// cannot perform symmetric encryption.
	ErrUnsuitableKey = errors.New("awskms: key is not a symmetric encryption key")

	// ErrMalformedPlaintext is returned when a decrypted payload lacks the
	// expected format prefix.
	ErrMalformedPlaintext = errors.New("awskms: malformed plaintext envelope")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("awskms: key manager closed")
)
