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

package azurekv

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
)

// KeyVaultClient defines the Azure Key Vault operations the key manager
// uses. This interface allows for mocking in tests.
type KeyVaultClient interface {
	CreateKey(ctx context.Context, name string, params azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error)
	GetKey(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error)
	Encrypt(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.EncryptOptions) (azkeys.EncryptResponse, error)
	Decrypt(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.DecryptOptions) (azkeys.DecryptResponse, error)
}

var _ KeyVaultClient = (*azkeys.Client)(nil)

// MockKeyVaultClient is a mock implementation of the KeyVaultClient
// interface for testing.
type MockKeyVaultClient struct {
	CreateKeyFunc func(ctx context.Context, name string, params azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error)
	GetKeyFunc    func(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error)
	EncryptFunc   func(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.EncryptOptions) (azkeys.EncryptResponse, error)
	DecryptFunc   func(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.DecryptOptions) (azkeys.DecryptResponse, error)
}

// CreateKey mocks key creation.
func (m *MockKeyVaultClient) CreateKey(ctx context.Context, name string, params azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error) {
	if m.CreateKeyFunc != nil {
		return m.CreateKeyFunc(ctx, name, params, options)
	}
	return azkeys.CreateKeyResponse{}, nil
}

// GetKey mocks key retrieval.
func (m *MockKeyVaultClient) GetKey(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error) {
	if m.GetKeyFunc != nil {
		return m.GetKeyFunc(ctx, name, version, options)
	}
	return azkeys.GetKeyResponse{}, nil
}

// Encrypt mocks encryption.
func (m *MockKeyVaultClient) Encrypt(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.EncryptOptions) (azkeys.EncryptResponse, error) {
	if m.EncryptFunc != nil {
		return m.EncryptFunc(ctx, name, version, params, options)
	}
	return azkeys.EncryptResponse{}, nil
}

// Decrypt mocks decryption.
func (m *MockKeyVaultClient) Decrypt(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.DecryptOptions) (azkeys.DecryptResponse, error) {
	if m.DecryptFunc != nil {
		return m.DecryptFunc(ctx, name, version, params, options)
	}
	return azkeys.DecryptResponse{}, nil
}
