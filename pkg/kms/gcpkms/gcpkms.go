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

// Package gcpkms implements kms.KeyManager on Google Cloud KMS symmetric
// crypto keys (GOOGLE_SYMMETRIC_ENCRYPTION). Every request and response
// carries CRC32C checksums that are verified on both ends.
package gcpkms

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	kmsapi "github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// envelopeV1 prefixes every plaintext so empty values round-trip.
const envelopeV1 byte = 0x01

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// KeyManager is a GCP KMS kms.KeyManager.
type KeyManager struct {
	config *Config
	client KMSClient

	mu     sync.Mutex
	keys   map[string]aead.Primitive
	closed bool
}

var _ kmsapi.KeyManager = (*KeyManager)(nil)

// New creates a key manager with a KMS client built from config.
func New(ctx context.Context, config *Config) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "gcpkms.new", err)
	}

	var opts []option.ClientOption
	if len(config.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(config.CredentialsJSON))
	} else if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	client, err := kms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "gcpkms.new",
			fmt.Errorf("failed to create KMS client: %w", err))
	}
	// Drop the generated per-method retry settings.
	client.CallOptions = &kms.KeyManagementCallOptions{}
	return NewWithClient(config, &realKMSClient{KeyManagementClient: client})
}

// NewWithClient creates a key manager with a custom KMS client.
// This is primarily used for testing with mock clients.
func NewWithClient(config *Config, client KMSClient) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "gcpkms.new", err)
	}
	if client == nil {
		return nil, types.InvalidConfiguration("gcpkms.new", "nil KMS client")
	}
	return &KeyManager{
		config: config,
		client: client,
		keys:   make(map[string]aead.Primitive),
	}, nil
}

// GetOrCreateKey returns the crypto key named alias in the configured key
// ring, creating it when absent. A concurrent creator winning the race is
// reported as AlreadyExists and resolved by reading its key.
func (m *KeyManager) GetOrCreateKey(ctx context.Context, alias string) (aead.Primitive, error) {
	const op = "gcpkms.get_or_create_key"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := kmsapi.ValidateAlias(alias); err != nil {
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

	name := m.config.CryptoKeyName(alias)
	key, err := m.client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: name})
	if status.Code(err) == codes.NotFound {
		key, err = m.client.CreateCryptoKey(ctx, &kmspb.CreateCryptoKeyRequest{
			Parent:      m.config.KeyRingName(),
			CryptoKeyId: alias,
			CryptoKey: &kmspb.CryptoKey{
				Purpose: kmspb.CryptoKey_ENCRYPT_DECRYPT,
				VersionTemplate: &kmspb.CryptoKeyVersionTemplate{
					Algorithm:       kmspb.CryptoKeyVersion_GOOGLE_SYMMETRIC_ENCRYPTION,
					ProtectionLevel: m.config.protectionLevel(),
				},
			},
		})
		if status.Code(err) == codes.AlreadyExists {
			key, err = m.client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: name})
		}
	}
	if err != nil {
		return nil, classify(op, err)
	}
	if key == nil {
		return nil, types.ProviderFault(op, fmt.Errorf("gcpkms: empty crypto key response for %s", name))
	}
	if key.GetPurpose() != kmspb.CryptoKey_ENCRYPT_DECRYPT {
		return nil, types.New(types.KindInvalidConfiguration, op,
			fmt.Errorf("%w: %s has purpose %s", ErrUnsuitableKey, name, key.GetPurpose()))
	}

	prim := &primitive{client: m.client, name: name}
	m.keys[alias] = prim
	return prim, nil
}

// Close drops cached primitives and closes the KMS client.
func (m *KeyManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.keys = nil
	return m.client.Close()
}

// primitive encrypts under the primary version of a crypto key.
type primitive struct {
	client KMSClient
	name   string
}

func (p *primitive) String() string {
	return "gcpkms:" + p.name
}

func (p *primitive) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	const op = "gcpkms.encrypt"
	payload := append([]byte{envelopeV1}, plaintext...)
	req := &kmspb.EncryptRequest{
		Name:            p.name,
		Plaintext:       payload,
		PlaintextCrc32C: wrapperspb.Int64(crc32c(payload)),
	}
	if len(aad) > 0 {
		req.AdditionalAuthenticatedData = aad
		req.AdditionalAuthenticatedDataCrc32C = wrapperspb.Int64(crc32c(aad))
	}

	resp, err := p.client.Encrypt(ctx, req)
	if err != nil {
		return nil, classify(op, err)
	}
	if resp == nil || len(resp.Ciphertext) == 0 {
		return nil, types.ProviderFault(op, errors.New("empty ciphertext"))
	}
	if !resp.VerifiedPlaintextCrc32C ||
		(len(aad) > 0 && !resp.VerifiedAdditionalAuthenticatedDataCrc32C) {
		return nil, types.ProviderFault(op, fmt.Errorf("%w: request corrupted in transit", ErrChecksumMismatch))
	}
	if resp.CiphertextCrc32C != nil && resp.CiphertextCrc32C.Value != crc32c(resp.Ciphertext) {
		return nil, types.ProviderFault(op, fmt.Errorf("%w: ciphertext corrupted in transit", ErrChecksumMismatch))
	}
	return resp.Ciphertext, nil
}

func (p *primitive) Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	const op = "gcpkms.decrypt"
	if len(ciphertext) == 0 {
		return nil, aead.ErrMalformedCiphertext
	}
	req := &kmspb.DecryptRequest{
		Name:             p.name,
		Ciphertext:       ciphertext,
		CiphertextCrc32C: wrapperspb.Int64(crc32c(ciphertext)),
	}
	if len(aad) > 0 {
		req.AdditionalAuthenticatedData = aad
		req.AdditionalAuthenticatedDataCrc32C = wrapperspb.Int64(crc32c(aad))
	}

	resp, err := p.client.Decrypt(ctx, req)
	if err != nil {
		// KMS reports a ciphertext that does not open under this key and
		// AAD as INVALID_ARGUMENT.
		if status.Code(err) == codes.InvalidArgument {
			return nil, types.AuthenticationFailure(op, err)
		}
		return nil, classify(op, err)
	}
	if resp == nil {
		return nil, types.ProviderFault(op, errors.New("empty decrypt response"))
	}
	if resp.PlaintextCrc32C != nil && resp.PlaintextCrc32C.Value != crc32c(resp.Plaintext) {
		return nil, types.ProviderFault(op, fmt.Errorf("%w: plaintext corrupted in transit", ErrChecksumMismatch))
	}
	if len(resp.Plaintext) == 0 || resp.Plaintext[0] != envelopeV1 {
		return nil, types.AuthenticationFailure(op, ErrMalformedPlaintext)
	}
	return resp.Plaintext[1:], nil
}

// crc32c computes the CRC32C checksum used by GCP KMS for data integrity.
func crc32c(data []byte) int64 {
	return int64(crc32.Checksum(data, crc32cTable))
}

// classify maps gRPC status codes onto the error kinds.
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
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Internal, codes.Aborted:
		return types.ProviderFault(op, err)
	case codes.NotFound, codes.FailedPrecondition, codes.InvalidArgument:
		return types.New(types.KindInvalidConfiguration, op, err)
	}
	return err
}
