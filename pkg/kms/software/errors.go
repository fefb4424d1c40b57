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

package software

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("software: invalid configuration")

	// ErrInvalidPassword is returned when a wrapped key cannot be unwrapped.
	ErrInvalidPassword = errors.New("software: invalid password")

	// ErrCorruptKeyRecord is returned when a stored key record cannot be parsed.
	ErrCorruptKeyRecord = errors.New("software: corrupt key record")

	// ErrPasswordRequired is returned when a wrapped key is loaded without a password.
	ErrPasswordRequired = errors.New("software: key is password protected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("software: key manager closed")
)
