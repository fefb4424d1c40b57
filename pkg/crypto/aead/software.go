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

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-encstore/pkg/types"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required master key length for the software primitives.
const KeySize = 32

// software seals with an in-process cipher.AEAD and frames the output as
// nonce || ciphertext || tag.
type software struct {
	aead cipher.AEAD
	rand io.Reader
	name string
}

// NewAESGCM returns an AES-256-GCM primitive with a 12-byte random nonce
// and a 16-byte tag.
func NewAESGCM(key []byte) (Primitive, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes (must be %d bytes)", ErrInvalidKeySize, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to create GCM: %w", err)
	}
	return &software{aead: gcm, rand: rand.Reader, name: "aes256-gcm"}, nil
}

// NewXChaCha20Poly1305 returns an XChaCha20-Poly1305 primitive with a
// 24-byte random nonce and a 16-byte tag.
func NewXChaCha20Poly1305(key []byte) (Primitive, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: %d bytes (must be %d bytes)", ErrInvalidKeySize, len(key), chacha20poly1305.KeySize)
	}
	x, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to create XChaCha20-Poly1305 cipher: %w", err)
	}
	return &software{aead: x, rand: rand.Reader, name: "xchacha20-poly1305"}, nil
}

func (s *software) String() string {
	return s.name
}

// Seal generates a random nonce and appends ciphertext and tag to it.
func (s *software) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns := s.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(s.rand, out); err != nil {
		return nil, types.ProviderFault("aead.seal", fmt.Errorf("%w: %w", ErrNonceGeneration, err))
	}
	return s.aead.Seal(out, out[:ns], plaintext, aad), nil
}

// Open splits the nonce off ciphertext and verifies the rest.
func (s *software) Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns := s.aead.NonceSize()
	if len(ciphertext) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedCiphertext, len(ciphertext))
	}
	plain, err := s.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}
