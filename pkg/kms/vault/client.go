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

package vault

import (
	"context"

	vaultapi "github.com/hashicorp/vault/api"
)

// LogicalClient is the subset of the Vault logical API the key manager
// uses. *vaultapi.Logical satisfies it.
type LogicalClient interface {
	ReadWithContext(ctx context.Context, path string) (*vaultapi.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vaultapi.Secret, error)
}

var _ LogicalClient = (*vaultapi.Logical)(nil)

// MockLogicalClient is a mock implementation of LogicalClient for testing.
type MockLogicalClient struct {
	ReadFunc  func(ctx context.Context, path string) (*vaultapi.Secret, error)
	WriteFunc func(ctx context.Context, path string, data map[string]interface{}) (*vaultapi.Secret, error)
}

// ReadWithContext mocks a logical read.
func (m *MockLogicalClient) ReadWithContext(ctx context.Context, path string) (*vaultapi.Secret, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, path)
	}
	return nil, nil
}

// WriteWithContext mocks a logical write.
func (m *MockLogicalClient) WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vaultapi.Secret, error) {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, path, data)
	}
	return nil, nil
}
