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

// Package keyid derives opaque storage identifiers from logical entry names.
//
// An identifier is the lowercase hexadecimal digest of the name under a
// one-way hash. The same identifier is used as the persisted record key
// and, via AAD, as the associated data for authenticated encryption, so a
// ciphertext cannot be moved from one entry to another without failing
// authentication.
package keyid

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/jeremyhahn/go-encstore/pkg/types"
	"golang.org/x/crypto/blake2b"
)

// ID is a storage identifier: the lowercase hex digest of a logical name.
type ID string

// String returns the identifier as persisted.
func (id ID) String() string {
	return string(id)
}

// AAD returns the associated data bound to ciphertexts stored under id.
// It is always the UTF-8 encoding of the identifier itself.
func (id ID) AAD() []byte {
	return []byte(id)
}

// Algorithm names a digest used for identifier derivation.
type Algorithm string

const (
	// SHA256 is the default algorithm.
	SHA256 Algorithm = "sha256"

	// SHA512_256 is SHA-512 truncated to 256 bits.
	SHA512_256 Algorithm = "sha512-256"

	// BLAKE2b256 is unkeyed BLAKE2b with a 256-bit digest.
	BLAKE2b256 Algorithm = "blake2b-256"
)

// Deriver maps a logical name to a storage identifier. Implementations
// must be pure and deterministic.
type Deriver interface {
	Derive(name string) ID
	Algorithm() Algorithm
}

type hashDeriver struct {
	alg     Algorithm
	newHash func() hash.Hash
}

// New returns a Deriver for alg. An empty alg selects SHA256.
func New(alg Algorithm) (Deriver, error) {
	switch Algorithm(strings.ToLower(string(alg))) {
	case "", SHA256:
		return &hashDeriver{alg: SHA256, newHash: sha256.New}, nil
	case SHA512_256:
		return &hashDeriver{alg: SHA512_256, newHash: sha512.New512_256}, nil
	case BLAKE2b256:
		return &hashDeriver{alg: BLAKE2b256, newHash: newBlake2b256}, nil
	default:
		return nil, types.InvalidConfiguration("keyid.new", "unsupported hash algorithm %q", alg)
	}
}

// Default returns the SHA-256 deriver.
func Default() Deriver {
	return &hashDeriver{alg: SHA256, newHash: sha256.New}
}

// Derive returns the SHA-256 identifier of name.
func Derive(name string) ID {
	sum := sha256.Sum256([]byte(name))
	return ID(hex.EncodeToString(sum[:]))
}

func (d *hashDeriver) Derive(name string) ID {
	h := d.newHash()
	h.Write([]byte(name))
	return ID(hex.EncodeToString(h.Sum(nil)))
}

func (d *hashDeriver) Algorithm() Algorithm {
	return d.alg
}

func newBlake2b256() hash.Hash {
	// blake2b.New256 only fails for oversized keys.
	h, _ := blake2b.New256(nil)
	return h
}

// IsValid reports whether s has the shape of a 256-bit identifier:
// 64 lowercase hexadecimal characters.
func IsValid(s string) bool {
	if len(s) != 2*sha256.Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
