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

// Package aead performs authenticated encryption bound to per-entry
// associated data.
//
// A Primitive is the capability supplied by a key-management provider:
// it encrypts and decrypts under one named master key and generates its
// own nonces. Cipher wraps a Primitive and owns the contract the rest of
// the module relies on:
//
//   - any plaintext, including an empty one, can be sealed
//   - tag verification failures surface as types.KindAuthentication and
//     are never reclassified
//   - transient provider failures surface as types.KindProviderFault
//   - nothing else is retryable
//
// Example:
//
//	prim, err := aead.NewAESGCM(key)
//	if err != nil {
//	    return err
//	}
//	c := aead.NewCipher(prim)
//	sealed, err := c.Seal(ctx, []byte("secret"), id.AAD())
//	...
//	plain, err := c.Open(ctx, sealed, id.AAD())
package aead

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// Primitive is an authenticated-encryption capability bound to one master
// key. Seal must generate a fresh nonce per call and embed whatever it
// needs to decrypt in the returned ciphertext.
type Primitive interface {
	Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

// Cipher enforces error classification on top of a Primitive.
type Cipher struct {
	prim Primitive
}

// NewCipher wraps prim.
func NewCipher(prim Primitive) *Cipher {
	return &Cipher{prim: prim}
}

// Seal encrypts plaintext bound to aad.
func (c *Cipher) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	if c == nil || c.prim == nil {
		return nil, types.Internal("aead.seal", "cipher has no primitive")
	}
	out, err := c.prim.Seal(ctx, plaintext, aad)
	if err != nil {
		return nil, classify("aead.seal", err)
	}
	return out, nil
}

// Open decrypts ciphertext and verifies it against aad.
func (c *Cipher) Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	if c == nil || c.prim == nil {
		return nil, types.Internal("aead.open", "cipher has no primitive")
	}
	out, err := c.prim.Open(ctx, ciphertext, aad)
	if err != nil {
		return nil, classify("aead.open", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// SealToString seals plaintext and returns it as padded standard base64.
func (c *Cipher) SealToString(ctx context.Context, plaintext, aad []byte) (string, error) {
	out, err := c.Seal(ctx, plaintext, aad)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenString decodes a value produced by SealToString and opens it. A
// value that is not valid base64 was altered after sealing and is
// reported as an authentication failure.
func (c *Cipher) OpenString(ctx context.Context, encoded string, aad []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.AuthenticationFailure("aead.open", errors.Join(ErrMalformedCiphertext, err))
	}
	return c.Open(ctx, raw, aad)
}

// classify keeps a primitive's own classification, maps the package's
// integrity sentinels to KindAuthentication and leaves everything else
// unknown. Context errors pass through untouched.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if types.KindOf(err) != types.KindUnknown {
		return err
	}
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrMalformedCiphertext) {
		return types.AuthenticationFailure(op, err)
	}
	return types.New(types.KindUnknown, op, err)
}
