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

import (
	"fmt"
	"io"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
)

// Algorithm selects the AEAD used for keys created by this manager.
type Algorithm string

const (
	// AES256GCM is the default.
	AES256GCM Algorithm = "aes256-gcm"

	// XChaCha20Poly1305 uses a 24-byte random nonce.
	XChaCha20Poly1305 Algorithm = "xchacha20-poly1305"
)

// Config contains configuration for the software key manager.
type Config struct {
	// KeyStorage holds key records under keys/{alias}.key. It may be the
	// same backend that holds encrypted entries.
	KeyStorage storage.Backend `yaml:"-" json:"-" mapstructure:"-"`

	// Password, when set, wraps every stored key with an Argon2id-derived
	// AES-256-GCM key. An empty password stores keys unwrapped.
	Password []byte `yaml:"-" json:"-" mapstructure:"-"`

	// Algorithm for newly created keys. Existing keys keep the algorithm
	// recorded with them.
	Algorithm Algorithm `yaml:"algorithm,omitempty" json:"algorithm,omitempty" mapstructure:"algorithm"`

	// Rand is the entropy source for key generation. Defaults to crypto/rand.
	Rand io.Reader `yaml:"-" json:"-" mapstructure:"-"`
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.KeyStorage == nil {
		return fmt.Errorf("%w: key storage is required", ErrInvalidConfig)
	}
	switch c.Algorithm {
	case "", AES256GCM, XChaCha20Poly1305:
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	return nil
}

// String returns a string representation of the config with the password masked.
func (c *Config) String() string {
	password := "<not set>"
	if len(c.Password) > 0 {
		password = "****"
	}
	alg := c.Algorithm
	if alg == "" {
		alg = AES256GCM
	}
	return fmt.Sprintf("SoftwareConfig{Algorithm: %s, Password: %s}", alg, password)
}
