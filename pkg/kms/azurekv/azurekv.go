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

//go:build azurekv

// Package azurekv implements kms.KeyManager on Azure Key Vault Managed HSM
// oct-HSM keys using A256GCM.
//
// Ciphertexts are self-describing:
//
//	len(version) || version || iv (12) || tag (16) || ciphertext
//
// The key version travels with the ciphertext, so entries written under
// any version of the key stay readable when versions are added.
package azurekv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const (
	envelopeV1 byte = 0x01
	ivSize          = 12
	tagSize         = 16
	keySizeBits     = 256
)

// KeyManager is an Azure Managed HSM kms.KeyManager.
type KeyManager struct {
	config *Config
	client KeyVaultClient

	mu     sync.Mutex
	keys   map[string]aead.Primitive
	closed bool
}

var _ kms.KeyManager = (*KeyManager)(nil)

// New creates a key manager authenticating with a client secret when one
// is configured and DefaultAzureCredential otherwise.
func New(config *Config) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "azurekv.new", err)
	}

	var (
		cred azcore.TokenCredential
		err  error
	)
	if config.ClientID != "" && config.ClientSecret != "" && config.TenantID != "" {
		cred, err = azidentity.NewClientSecretCredential(
			config.TenantID,
			config.ClientID,
			config.ClientSecret,
			&azidentity.ClientSecretCredentialOptions{AdditionallyAllowedTenants: []string{"*"}},
		)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(
			&azidentity.DefaultAzureCredentialOptions{AdditionallyAllowedTenants: []string{"*"}},
		)
	}
	if err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "azurekv.new",
			fmt.Errorf("failed to create Azure credential: %w", err))
	}

	client, err := azkeys.NewClient(config.VaultURL, cred, &azkeys.ClientOptions{
		ClientOptions: azcore.ClientOptions{Retry: policy.RetryOptions{MaxRetries: -1}},
	})
	if err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "azurekv.new",
			fmt.Errorf("failed to create Azure Key Vault client: %w", err))
	}
	return NewWithClient(config, client)
}

// NewWithClient creates a key manager with a custom client.
// This is primarily used for testing with mock clients.
func NewWithClient(config *Config, client KeyVaultClient) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "azurekv.new", err)
	}
	if client == nil {
		return nil, types.InvalidConfiguration("azurekv.new", "nil Key Vault client")
	}
	return &KeyManager{
		config: config,
		client: client,
		keys:   make(map[string]aead.Primitive),
	}, nil
}

// GetOrCreateKey resolves the latest version of the key named alias,
// creating a 256-bit oct-HSM key when none exists. Key Vault answers a
// concurrent create with a new version rather than a conflict; every
// version remains usable for decryption.
func (m *KeyManager) GetOrCreateKey(ctx context.Context, alias string) (aead.Primitive, error) {
	const op = "azurekv.get_or_create_key"
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

	var bundle azkeys.KeyBundle
	got, err := m.client.GetKey(ctx, alias, "", nil)
	if err == nil {
		bundle = got.KeyBundle
	} else if statusCode(err) == http.StatusNotFound {
		var created azkeys.CreateKeyResponse
		created, err = m.client.CreateKey(ctx, alias, azkeys.CreateKeyParameters{
			Kty:     to.Ptr(azkeys.KeyTypeOctHSM),
			KeySize: to.Ptr(int32(keySizeBits)),
			KeyOps: []*azkeys.KeyOperation{
				to.Ptr(azkeys.KeyOperationEncrypt),
				to.Ptr(azkeys.KeyOperationDecrypt),
			},
		}, nil)
		bundle = created.KeyBundle
	}
	if err != nil {
		return nil, classify(op, err)
	}

	version, err := checkBundle(alias, bundle)
	if err != nil {
		return nil, types.New(types.KindInvalidConfiguration, op, err)
	}

	prim := &primitive{client: m.client, name: alias, version: version}
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

func checkBundle(alias string, bundle azkeys.KeyBundle) (string, error) {
	key := bundle.Key
	if key == nil || key.KID == nil {
		return "", fmt.Errorf("%w: %s has no key material reference", ErrUnsuitableKey, alias)
	}
	if key.Kty == nil || *key.Kty != azkeys.KeyTypeOctHSM {
		return "", fmt.Errorf("%w: %s has the wrong key type", ErrUnsuitableKey, alias)
	}
	if attrs := bundle.Attributes; attrs != nil && attrs.Enabled != nil && !*attrs.Enabled {
		return "", fmt.Errorf("%w: %s is disabled", ErrUnsuitableKey, alias)
	}
	version := key.KID.Version()
	if version == "" || len(version) > 255 {
		return "", fmt.Errorf("%w: %s has an unusable version %q", ErrUnsuitableKey, alias, version)
	}
	return version, nil
}

// primitive encrypts under one version of a Key Vault key and decrypts
// under whichever version a ciphertext names.
type primitive struct {
	client  KeyVaultClient
	name    string
	version string
}

func (p *primitive) String() string {
	return "azurekv:" + p.name + "/" + p.version
}

func (p *primitive) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	const op = "azurekv.encrypt"
	params := azkeys.KeyOperationParameters{
		Algorithm: to.Ptr(azkeys.EncryptionAlgorithmA256GCM),
		Value:     append([]byte{envelopeV1}, plaintext...),
	}
	if len(aad) > 0 {
		params.AdditionalAuthenticatedData = aad
	}

	resp, err := p.client.Encrypt(ctx, p.name, p.version, params, nil)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(resp.IV) != ivSize || len(resp.AuthenticationTag) != tagSize {
		return nil, types.ProviderFault(op, fmt.Errorf("unexpected iv/tag sizes %d/%d", len(resp.IV), len(resp.AuthenticationTag)))
	}

	out := make([]byte, 0, 1+len(p.version)+ivSize+tagSize+len(resp.Result))
	out = append(out, byte(len(p.version)))
	out = append(out, p.version...)
	out = append(out, resp.IV...)
	out = append(out, resp.AuthenticationTag...)
	out = append(out, resp.Result...)
	return out, nil
}

func (p *primitive) Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	const op = "azurekv.decrypt"
	version, iv, tag, body, err := split(ciphertext)
	if err != nil {
		return nil, err
	}
	params := azkeys.KeyOperationParameters{
		Algorithm:         to.Ptr(azkeys.EncryptionAlgorithmA256GCM),
		Value:             body,
		IV:                iv,
		AuthenticationTag: tag,
	}
	if len(aad) > 0 {
		params.AdditionalAuthenticatedData = aad
	}

	resp, err := p.client.Decrypt(ctx, p.name, version, params, nil)
	if err != nil {
		// A tag mismatch surfaces as a 400 from the HSM.
		if statusCode(err) == http.StatusBadRequest {
			return nil, types.AuthenticationFailure(op, err)
		}
		return nil, classify(op, err)
	}
	if len(resp.Result) == 0 || resp.Result[0] != envelopeV1 {
		return nil, types.AuthenticationFailure(op, ErrMalformedPlaintext)
	}
	return resp.Result[1:], nil
}

func split(ciphertext []byte) (version string, iv, tag, body []byte, err error) {
	if len(ciphertext) < 1 {
		return "", nil, nil, nil, aead.ErrMalformedCiphertext
	}
	n := int(ciphertext[0])
	if n == 0 || len(ciphertext) < 1+n+ivSize+tagSize {
		return "", nil, nil, nil, aead.ErrMalformedCiphertext
	}
	rest := ciphertext[1+n:]
	return string(ciphertext[1 : 1+n]), rest[:ivSize], rest[ivSize : ivSize+tagSize], rest[ivSize+tagSize:], nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// classify maps Key Vault HTTP failures onto the error kinds.
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
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return types.ProviderFault(op, err)
	case code == http.StatusNotFound, code == http.StatusBadRequest, code == http.StatusConflict:
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
