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
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters: time=1, memory=64MB, threads=4, keyLen=32.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32

	saltSize  = 32
	nonceSize = 12
	tagSize   = 16
)

// wrapKey encrypts key material with a password-derived key.
//
// Format: [salt(32)][nonce(12)][ciphertext+tag]
// The salt doubles as associated data.
func wrapKey(keyData, password []byte, rnd io.Reader) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, keyData, salt)

	result := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// unwrapKey reverses wrapKey.
func unwrapKey(wrapped, password []byte) ([]byte, error) {
	if len(wrapped) < saltSize+nonceSize+tagSize {
		return nil, fmt.Errorf("%w: wrapped key too short: %d bytes", ErrCorruptKeyRecord, len(wrapped))
	}

	salt := wrapped[:saltSize]
	nonce := wrapped[saltSize : saltSize+nonceSize]
	ciphertext := wrapped[saltSize+nonceSize:]

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return plaintext, nil
}

func passwordGCM(password, salt []byte) (cipher.AEAD, error) {
	derived := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
