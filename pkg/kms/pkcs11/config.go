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

import (
	"fmt"
	"os"
	"strings"
)

// Config contains configuration for the PKCS#11 key manager.
type Config struct {
	// Library is the path to the PKCS#11 library file.
	// Examples:
	//   - /usr/lib/softhsm/libsofthsm2.so (SoftHSM)
	//   - /opt/nfast/toolkits/pkcs11/libcknfast.so (nCipher)
	Library string `yaml:"library" json:"library" mapstructure:"library"`

	// PIN is the user PIN for the PKCS#11 token.
	PIN string `yaml:"pin,omitempty" json:"pin,omitempty" mapstructure:"pin"`

	// Slot is the slot number where the token is located.
	// Can be nil if TokenLabel is used instead.
	Slot *int `yaml:"slot,omitempty" json:"slot,omitempty" mapstructure:"slot"`

	// TokenLabel is the label of the PKCS#11 token to use.
	// This is an alternative to specifying a slot number.
	TokenLabel string `yaml:"label" json:"label" mapstructure:"label"`

	// MaxSessions bounds concurrent sessions opened by crypto11.
	// Zero uses the crypto11 default.
	MaxSessions int `yaml:"max_sessions,omitempty" json:"max_sessions,omitempty" mapstructure:"max_sessions"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.Library == "" {
		return fmt.Errorf("%w: library path is required", ErrInvalidConfig)
	}
	if _, err := os.Stat(c.Library); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, c.Library)
	}
	if (c.TokenLabel == "") == (c.Slot == nil) {
		return fmt.Errorf("%w: exactly one of token label or slot is required", ErrInvalidConfig)
	}
	if c.PIN != "" && len(c.PIN) < 4 {
		return ErrInvalidPINLength
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max_sessions must not be negative", ErrInvalidConfig)
	}
	return nil
}

// IsSoftHSM returns true if the library path indicates SoftHSM is being used.
func (c *Config) IsSoftHSM() bool {
	return strings.Contains(c.Library, "libsofthsm")
}

// String returns a string representation of the config with sensitive data masked.
func (c *Config) String() string {
	pinMask := "****"
	if c.PIN == "" {
		pinMask = "<not set>"
	}
	slot := "<not set>"
	if c.Slot != nil {
		slot = fmt.Sprintf("%d", *c.Slot)
	}
	return fmt.Sprintf("PKCS#11 Config{Library: %s, TokenLabel: %s, Slot: %s, PIN: %s}",
		c.Library, c.TokenLabel, slot, pinMask)
}
