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

//go:build gcpkms

package gcpkms

import (
	"context"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSClient defines the GCP KMS operations the key manager uses.
// This interface allows for mocking in tests.
type KMSClient interface {
	GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error)
	CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error)
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error)
	Close() error
}

// realKMSClient wraps the actual GCP KMS client to implement our interface.
type realKMSClient struct {
	*kms.KeyManagementClient
}

func (r *realKMSClient) GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	return r.KeyManagementClient.GetCryptoKey(ctx, req)
}

func (r *realKMSClient) CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	return r.KeyManagementClient.CreateCryptoKey(ctx, req)
}

func (r *realKMSClient) Encrypt(ctx context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error) {
	return r.KeyManagementClient.Encrypt(ctx, req)
}

func (r *realKMSClient) Decrypt(ctx context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error) {
	return r.KeyManagementClient.Decrypt(ctx, req)
}

// MockKMSClient is a mock implementation of the KMSClient interface for testing.
type MockKMSClient struct {
	GetCryptoKeyFunc    func(ctx context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error)
	CreateCryptoKeyFunc func(ctx context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error)
	EncryptFunc         func(ctx context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error)
	DecryptFunc         func(ctx context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error)
	CloseFunc           func() error
}

// GetCryptoKey mocks retrieving a crypto key from GCP KMS.
func (m *MockKMSClient) GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	if m.GetCryptoKeyFunc != nil {
		return m.GetCryptoKeyFunc(ctx, req)
	}
	return nil, nil
}

// CreateCryptoKey mocks creating a crypto key in GCP KMS.
func (m *MockKMSClient) CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error) {
	if m.CreateCryptoKeyFunc != nil {
		return m.CreateCryptoKeyFunc(ctx, req)
	}
	return nil, nil
}

// Encrypt mocks symmetric encryption.
func (m *MockKMSClient) Encrypt(ctx context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error) {
	if m.EncryptFunc != nil {
		return m.EncryptFunc(ctx, req)
	}
	return nil, nil
}

// Decrypt mocks symmetric decryption.
func (m *MockKMSClient) Decrypt(ctx context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error) {
	if m.DecryptFunc != nil {
		return m.DecryptFunc(ctx, req)
	}
	return nil, nil
}

// Close mocks closing the client.
func (m *MockKMSClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
