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

// Package pkcs11 implements kms.KeyManager on AES-256 secret keys held in
// a PKCS#11 token, driven through crypto11. The key never leaves the
// token; GCM runs on the device with a host-generated 12-byte nonce.
//
// Ciphertexts are framed as nonce || ciphertext || tag.
package pkcs11

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const keyBits = 256

// KeyManager is a PKCS#11 kms.KeyManager.
type KeyManager struct {
	token Token
	rand  io.Reader

	mu     sync.Mutex
	keys   map[string]aead.Primitive
	closed bool
}

var _ kms.KeyManager = (*KeyManager)(nil)

// New opens the configured token and logs in.
func New(config *Config) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "pkcs11.new", err)
	}
	token, err := openToken(config)
	if err != nil {
		return nil, classify("pkcs11.new", fmt.Errorf("failed to configure PKCS#11 context: %w", err), false)
	}
	return NewWithToken(token)
}

// NewWithToken creates a key manager over an already opened token.
func NewWithToken(token Token) (*KeyManager, error) {
	if token == nil {
		return nil, types.InvalidConfiguration("pkcs11.new", "nil token")
	}
	return &KeyManager{
		token: token,
		rand:  rand.Reader,
		keys:  make(map[string]aead.Primitive),
	}, nil
}

// GetOrCreateKey finds the AES key labelled alias, generating a 256-bit
// key when none exists. Creation is serialized within the process.
func (m *KeyManager) GetOrCreateKey(ctx context.Context, alias string) (aead.Primitive, error) {
	const op = "pkcs11.get_or_create_key"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := kms.ValidateAlias(alias); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if prim, ok := m.keys[alias]; ok {
		return prim, nil
	}

	gcm, err := m.token.FindGCM(alias)
	if err == nil && gcm == nil {
		gcm, err = m.token.GenerateGCM(alias, keyBits)
	}
	if err != nil {
		return nil, classify(op, err, false)
	}
	if gcm.NonceSize() != 12 || gcm.Overhead() != 16 {
		return nil, types.Internal(op, "unexpected GCM parameters %d/%d", gcm.NonceSize(), gcm.Overhead())
	}

	prim := &primitive{gcm: gcm, rand: m.rand, label: alias}
	m.keys[alias] = prim
	return prim, nil
}

// Close drops cached primitives and closes the token context.
func (m *KeyManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.keys = nil
	return m.token.Close()
}

type primitive struct {
	gcm   cipher.AEAD
	rand  io.Reader
	label string
}

func (p *primitive) String() string {
	return "pkcs11:" + p.label
}

func (p *primitive) Seal(ctx context.Context, plaintext, aad []byte) (out []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns := p.gcm.NonceSize()
	nonce := make([]byte, ns, ns+len(plaintext)+p.gcm.Overhead())
	if _, err := io.ReadFull(p.rand, nonce); err != nil {
		return nil, types.ProviderFault("pkcs11.encrypt", fmt.Errorf("%w: %w", aead.ErrNonceGeneration, err))
	}

	// crypto11 panics when the token fails inside cipher.AEAD.Seal.
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			out, err = nil, classify("pkcs11.encrypt", fmt.Errorf("%w: %w", ErrSealFailed, cause), false)
		}
	}()
	return p.gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func (p *primitive) Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns := p.gcm.NonceSize()
	if len(ciphertext) < ns+p.gcm.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", aead.ErrMalformedCiphertext, len(ciphertext))
	}
	plain, err := p.gcm.Open(nil, ciphertext[:ns], ciphertext[ns:], aad)
	if err != nil {
		return nil, classify("pkcs11.decrypt", err, true)
	}
	return plain, nil
}

var (
	faultCodes = map[pkcs11.Error]bool{
		pkcs11.CKR_DEVICE_ERROR:           true,
		pkcs11.CKR_DEVICE_MEMORY:          true,
		pkcs11.CKR_DEVICE_REMOVED:         true,
		pkcs11.CKR_HOST_MEMORY:            true,
		pkcs11.CKR_SESSION_CLOSED:         true,
		pkcs11.CKR_SESSION_COUNT:          true,
		pkcs11.CKR_SESSION_HANDLE_INVALID: true,
		pkcs11.CKR_TOKEN_NOT_PRESENT:      true,
		pkcs11.CKR_FUNCTION_CANCELED:      true,
	}
	configCodes = map[pkcs11.Error]bool{
		pkcs11.CKR_PIN_INCORRECT:         true,
		pkcs11.CKR_PIN_LOCKED:            true,
		pkcs11.CKR_PIN_EXPIRED:           true,
		pkcs11.CKR_USER_NOT_LOGGED_IN:    true,
		pkcs11.CKR_MECHANISM_INVALID:     true,
		pkcs11.CKR_KEY_TYPE_INCONSISTENT: true,
		pkcs11.CKR_SLOT_ID_INVALID:       true,
		pkcs11.CKR_TOKEN_NOT_RECOGNIZED:  true,
	}
	authCodes = map[pkcs11.Error]bool{
		pkcs11.CKR_ENCRYPTED_DATA_INVALID:   true,
		pkcs11.CKR_ENCRYPTED_DATA_LEN_RANGE: true,
		pkcs11.CKR_FUNCTION_FAILED:          true,
	}
)

// classify maps PKCS#11 return values onto the error kinds. On the
// decrypt path a failed tag check is reported as an authentication
// failure, both for software GCM and for the token's own codes.
func classify(op string, err error, decrypting bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if types.KindOf(err) != types.KindUnknown {
		return err
	}

	var rv pkcs11.Error
	if errors.As(err, &rv) {
		switch {
		case faultCodes[rv]:
			return types.ProviderFault(op, err)
		case configCodes[rv]:
			return types.New(types.KindInvalidConfiguration, op, err)
		case decrypting && authCodes[rv]:
			return types.AuthenticationFailure(op, err)
		}
		return err
	}
	if decrypting {
		return types.AuthenticationFailure(op, errors.Join(aead.ErrAuthentication, err))
	}
	return err
}
