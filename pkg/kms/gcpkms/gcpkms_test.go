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
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const alias = "secure_data_store_master_key"

func testConfig() *Config {
	return &Config{ProjectID: "p", LocationID: "global", KeyRingID: "ring"}
}

// fakeKMS is an in-memory key ring. Ciphertexts are name + 0x00 + aad +
// 0x00 + plaintext.
type fakeKMS struct {
	mu      sync.Mutex
	keys    map[string]*kmspb.CryptoKey
	creates int
	closed  bool
}

func newFakeKMS() *fakeKMS {
	return &fakeKMS{keys: make(map[string]*kmspb.CryptoKey)}
}

func (f *fakeKMS) client() *MockKMSClient {
	return &MockKMSClient{
		GetCryptoKeyFunc: func(_ context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			key, ok := f.keys[req.Name]
			if !ok {
				return nil, status.Error(codes.NotFound, "no such key")
			}
			return key, nil
		},
		CreateCryptoKeyFunc: func(_ context.Context, req *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			name := req.Parent + "/cryptoKeys/" + req.CryptoKeyId
			if _, ok := f.keys[name]; ok {
				return nil, status.Error(codes.AlreadyExists, "exists")
			}
			f.creates++
			key := &kmspb.CryptoKey{Name: name, Purpose: req.CryptoKey.Purpose}
			f.keys[name] = key
			return key, nil
		},
		EncryptFunc: func(_ context.Context, req *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error) {
			if req.PlaintextCrc32C.GetValue() != crc32c(req.Plaintext) {
				return nil, status.Error(codes.InvalidArgument, "plaintext crc")
			}
			ct := bytes.Join([][]byte{[]byte(req.Name), req.AdditionalAuthenticatedData, req.Plaintext}, []byte{0})
			return &kmspb.EncryptResponse{
				Name:                    req.Name,
				Ciphertext:              ct,
				CiphertextCrc32C:        wrapperspb.Int64(crc32c(ct)),
				VerifiedPlaintextCrc32C: true,
				VerifiedAdditionalAuthenticatedDataCrc32C: len(req.AdditionalAuthenticatedData) > 0,
			}, nil
		},
		DecryptFunc: func(_ context.Context, req *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error) {
			parts := bytes.SplitN(req.Ciphertext, []byte{0}, 3)
			if len(parts) != 3 || string(parts[0]) != req.Name || !bytes.Equal(parts[1], req.AdditionalAuthenticatedData) {
				return nil, status.Error(codes.InvalidArgument, "Decryption failed: the ciphertext is invalid.")
			}
			return &kmspb.DecryptResponse{
				Plaintext:       parts[2],
				PlaintextCrc32C: wrapperspb.Int64(crc32c(parts[2])),
			}, nil
		},
		CloseFunc: func() error {
			f.closed = true
			return nil
		},
	}
}

func newManager(t *testing.T, client KMSClient) *KeyManager {
	t.Helper()
	m, err := NewWithClient(testConfig(), client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestConfigValidate(t *testing.T) {
	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidProjectID)
	assert.ErrorIs(t, (&Config{ProjectID: "p"}).Validate(), ErrInvalidLocationID)
	assert.ErrorIs(t, (&Config{ProjectID: "p", LocationID: "l"}).Validate(), ErrInvalidKeyRingID)

	cfg := testConfig()
	cfg.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCredentials)

	assert.NoError(t, testConfig().Validate())
}

func TestConfigNames(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "projects/p/locations/global/keyRings/ring", cfg.KeyRingName())
	assert.Equal(t, "projects/p/locations/global/keyRings/ring/cryptoKeys/k", cfg.CryptoKeyName("k"))
	assert.Equal(t, kmspb.ProtectionLevel_SOFTWARE, cfg.protectionLevel())
	cfg.HSM = true
	assert.Equal(t, kmspb.ProtectionLevel_HSM, cfg.protectionLevel())
}

func TestConfigStringMasksCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.CredentialsJSON = []byte(`{"private_key":"secret"}`)
	assert.NotContains(t, cfg.String(), "secret")
	assert.Contains(t, cfg.String(), "<json: 24 bytes>")

	cfg = testConfig()
	cfg.CredentialsFile = "/home/user/keys/sa.json"
	assert.Contains(t, cfg.String(), "/.../sa.json")
}

func TestGetOrCreateKey(t *testing.T) {
	fake := newFakeKMS()
	m := newManager(t, fake.client())
	ctx := context.Background()

	p1, err := m.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	p2, err := m.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, fake.creates)

	other := newManager(t, fake.client())
	_, err = other.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.creates)
}

func TestCreateRaceReadsWinner(t *testing.T) {
	client := &MockKMSClient{}
	gets := 0
	client.GetCryptoKeyFunc = func(_ context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error) {
		gets++
		if gets == 1 {
			return nil, status.Error(codes.NotFound, "not yet")
		}
		return &kmspb.CryptoKey{Name: req.Name, Purpose: kmspb.CryptoKey_ENCRYPT_DECRYPT}, nil
	}
	client.CreateCryptoKeyFunc = func(context.Context, *kmspb.CreateCryptoKeyRequest) (*kmspb.CryptoKey, error) {
		return nil, status.Error(codes.AlreadyExists, "lost the race")
	}

	m := newManager(t, client)
	_, err := m.GetOrCreateKey(context.Background(), alias)
	require.NoError(t, err)
	assert.Equal(t, 2, gets)
}

func TestUnsuitableKey(t *testing.T) {
	client := &MockKMSClient{
		GetCryptoKeyFunc: func(_ context.Context, req *kmspb.GetCryptoKeyRequest) (*kmspb.CryptoKey, error) {
			return &kmspb.CryptoKey{Name: req.Name, Purpose: kmspb.CryptoKey_ASYMMETRIC_SIGN}, nil
		},
	}
	_, err := newManager(t, client).GetOrCreateKey(context.Background(), alias)
	assert.ErrorIs(t, err, ErrUnsuitableKey)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
}

func TestSealOpen(t *testing.T) {
	m := newManager(t, newFakeKMS().client())
	ctx := context.Background()
	p, err := m.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	c := aead.NewCipher(p)

	for _, aad := range [][]byte{nil, []byte("entry-id")} {
		for _, pt := range [][]byte{{}, []byte("SensitiveData123")} {
			sealed, err := c.Seal(ctx, pt, aad)
			require.NoError(t, err)
			got, err := c.Open(ctx, sealed, aad)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(pt, got))
		}
	}

	sealed, err := c.Seal(ctx, []byte("x"), []byte("a"))
	require.NoError(t, err)
	_, err = c.Open(ctx, sealed, []byte("b"))
	assert.True(t, types.IsAuthentication(err))
}

func TestChecksumFailuresAreFaults(t *testing.T) {
	ctx := context.Background()

	unverified := &MockKMSClient{
		EncryptFunc: func(context.Context, *kmspb.EncryptRequest) (*kmspb.EncryptResponse, error) {
			return &kmspb.EncryptResponse{Ciphertext: []byte("ct")}, nil
		},
	}
	_, err := (&primitive{client: unverified, name: "k"}).Seal(ctx, []byte("x"), nil)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.True(t, types.IsRetryable(err))

	corrupted := &MockKMSClient{
		DecryptFunc: func(context.Context, *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error) {
			return &kmspb.DecryptResponse{Plaintext: []byte{envelopeV1, 'x'}, PlaintextCrc32C: wrapperspb.Int64(1)}, nil
		},
	}
	_, err = (&primitive{client: corrupted, name: "k"}).Open(ctx, []byte("ct"), nil)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.True(t, types.IsRetryable(err))
}

func TestOpenRejectsMissingEnvelope(t *testing.T) {
	client := &MockKMSClient{
		DecryptFunc: func(context.Context, *kmspb.DecryptRequest) (*kmspb.DecryptResponse, error) {
			return &kmspb.DecryptResponse{Plaintext: []byte("raw")}, nil
		},
	}
	_, err := (&primitive{client: client, name: "k"}).Open(context.Background(), []byte("ct"), nil)
	assert.ErrorIs(t, err, ErrMalformedPlaintext)
	assert.True(t, types.IsAuthentication(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code codes.Code
		want types.Kind
	}{
		{codes.Unavailable, types.KindProviderFault},
		{codes.DeadlineExceeded, types.KindProviderFault},
		{codes.ResourceExhausted, types.KindProviderFault},
		{codes.Internal, types.KindProviderFault},
		{codes.Aborted, types.KindProviderFault},
		{codes.NotFound, types.KindInvalidConfiguration},
		{codes.FailedPrecondition, types.KindInvalidConfiguration},
		{codes.PermissionDenied, types.KindUnknown},
		{codes.Unauthenticated, types.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, types.KindOf(classify("test", status.Error(tt.code, "x"))))
		})
	}
	assert.Equal(t, types.KindUnknown, types.KindOf(classify("test", errors.New("plain"))))
	assert.ErrorIs(t, classify("test", context.DeadlineExceeded), context.DeadlineExceeded)
	assert.Nil(t, classify("test", nil))
}

func TestCloseClosesClient(t *testing.T) {
	fake := newFakeKMS()
	m, err := NewWithClient(testConfig(), fake.client())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, fake.closed)

	_, err = m.GetOrCreateKey(context.Background(), alias)
	assert.ErrorIs(t, err, ErrClosed)
}
