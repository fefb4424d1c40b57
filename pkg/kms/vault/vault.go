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

//go:build vault

// Package vault implements kms.KeyManager on HashiCorp Vault Transit
// aes256-gcm96 keys. Associated data travels in the associated_data
// parameter, which requires Vault 1.17 or later. Ciphertexts are Vault's
// own "vault:v<N>:..." strings.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const (
	envelopeV1 byte = 0x01
	keyType         = "aes256-gcm96"
)

// KeyManager is a Vault Transit kms.KeyManager.
type KeyManager struct {
	config  *Config
	logical LogicalClient

	mu     sync.Mutex
	keys   map[string]aead.Primitive
	closed bool
}

var _ kms.KeyManager = (*KeyManager)(nil)

// New creates a key manager with a Vault client built from config. The
// client's own retries are disabled; callers own the retry policy.
func New(config *Config) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "vault.new", err)
	}

	vaultConfig := vaultapi.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.MaxRetries = 0

	if config.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vaultapi.TLSConfig{Insecure: true}); err != nil {
			return nil, types.New(types.KindInvalidConfiguration, "vault.new",
				fmt.Errorf("failed to configure TLS: %w", err))
		}
	}

	client, err := vaultapi.NewClient(vaultConfig)
	if err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "vault.new",
			fmt.Errorf("%w: %v", ErrVaultConnection, err))
	}
	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}
	return NewWithClient(config, client.Logical())
}

// NewWithClient creates a key manager with a custom logical client.
func NewWithClient(config *Config, logical LogicalClient) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "vault.new", err)
	}
	if logical == nil {
		return nil, types.InvalidConfiguration("vault.new", "nil Vault client")
	}
	return &KeyManager{
		config:  config,
		logical: logical,
		keys:    make(map[string]aead.Primitive),
	}, nil
}

// GetOrCreateKey creates the transit key named alias if absent and
// checks its type. Transit ignores a create for an existing key, so
// concurrent callers converge on the first key.
func (m *KeyManager) GetOrCreateKey(ctx context.Context, alias string) (aead.Primitive, error) {
	const op = "vault.get_or_create_key"
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

	path := fmt.Sprintf("%s/keys/%s", m.config.transitPath(), alias)
	_, err := m.logical.WriteWithContext(ctx, path, map[string]interface{}{
		"type":                   keyType,
		"exportable":             false,
		"allow_plaintext_backup": false,
	})
	if err != nil {
		return nil, classify(op, err)
	}

	secret, err := m.logical.ReadWithContext(ctx, path)
	if err != nil {
		return nil, classify(op, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, types.ProviderFault(op, fmt.Errorf("%w: key %s not readable after create", ErrInvalidResponse, alias))
	}
	if t, _ := secret.Data["type"].(string); t != keyType {
		return nil, types.New(types.KindInvalidConfiguration, op, fmt.Errorf("%w: %s is %q", ErrUnsuitableKey, alias, t))
	}

	prim := &primitive{
		logical:     m.logical,
		encryptPath: fmt.Sprintf("%s/encrypt/%s", m.config.transitPath(), alias),
		decryptPath: fmt.Sprintf("%s/decrypt/%s", m.config.transitPath(), alias),
	}
	m.keys[alias] = prim
	return prim, nil
}

// Close drops cached primitives.
func (m *KeyManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.keys = nil
	return nil
}

type primitive struct {
	logical     LogicalClient
	encryptPath string
	decryptPath string
}

func (p *primitive) String() string {
	return "vault:" + p.encryptPath
}

func (p *primitive) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	const op = "vault.encrypt"
	data := map[string]interface{}{
		// Vault Transit requires base64-encoded plaintext
		"plaintext": base64.StdEncoding.EncodeToString(append([]byte{envelopeV1}, plaintext...)),
	}
	if len(aad) > 0 {
		data["associated_data"] = base64.StdEncoding.EncodeToString(aad)
	}

	secret, err := p.logical.WriteWithContext(ctx, p.encryptPath, data)
	if err != nil {
		return nil, classify(op, err)
	}
	ct, err := field(secret, "ciphertext")
	if err != nil {
		return nil, types.ProviderFault(op, err)
	}
	if !strings.HasPrefix(ct, "vault:v") {
		return nil, types.ProviderFault(op, fmt.Errorf("%w: unexpected ciphertext format", ErrInvalidResponse))
	}
	return []byte(ct), nil
}

func (p *primitive) Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	const op = "vault.decrypt"
	if !strings.HasPrefix(string(ciphertext), "vault:v") {
		return nil, aead.ErrMalformedCiphertext
	}
	data := map[string]interface{}{
		"ciphertext": string(ciphertext),
	}
	if len(aad) > 0 {
		data["associated_data"] = base64.StdEncoding.EncodeToString(aad)
	}

	secret, err := p.logical.WriteWithContext(ctx, p.decryptPath, data)
	if err != nil {
		// Transit answers a tag mismatch or a mangled ciphertext with 400.
		if statusCode(err) == http.StatusBadRequest {
			return nil, types.AuthenticationFailure(op, err)
		}
		return nil, classify(op, err)
	}
	encoded, err := field(secret, "plaintext")
	if err != nil {
		return nil, types.ProviderFault(op, err)
	}
	plain, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.ProviderFault(op, fmt.Errorf("%w: failed to decode plaintext: %v", ErrInvalidResponse, err))
	}
	if len(plain) == 0 || plain[0] != envelopeV1 {
		return nil, types.AuthenticationFailure(op, ErrMalformedPlaintext)
	}
	return plain[1:], nil
}

func field(secret *vaultapi.Secret, name string) (string, error) {
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	v, ok := secret.Data[name].(string)
	if !ok {
		return "", fmt.Errorf("%w: no %s in response", ErrInvalidResponse, name)
	}
	return v, nil
}

func statusCode(err error) int {
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// classify maps Vault HTTP failures onto the error kinds. A sealed or
// standby Vault answers 503 and is a provider fault.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if types.KindOf(err) != types.KindUnknown {
		return err
	}

	switch code := statusCode(err); {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout,
		code == http.StatusTooEarly, code >= 500 && code != http.StatusNotImplemented:
		return types.ProviderFault(op, err)
	case code == http.StatusNotFound, code == http.StatusBadRequest, code == http.StatusNotImplemented:
		return types.New(types.KindInvalidConfiguration, op, err)
	case code != 0:
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.ProviderFault(op, err)
	}
	return err
}
