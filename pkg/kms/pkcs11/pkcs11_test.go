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

package pkcs11

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const alias = "secure_data_store_master_key"

// fakeToken keeps labelled AES keys in memory.
type fakeToken struct {
	keys      map[string]cipher.AEAD
	generated int
	findErr   error
	closed    bool
}

func newFakeToken() *fakeToken {
	return &fakeToken{keys: make(map[string]cipher.AEAD)}
}

func (f *fakeToken) FindGCM(label string) (cipher.AEAD, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.keys[label], nil
}

func (f *fakeToken) GenerateGCM(label string, bits int) (cipher.AEAD, error) {
	key := make([]byte, bits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	f.generated++
	f.keys[label] = gcm
	return gcm, nil
}

func (f *fakeToken) Close() error {
	f.closed = true
	return nil
}

// panickyAEAD mimics crypto11 failing inside Seal.
type panickyAEAD struct{ cipher.AEAD }

func (panickyAEAD) Seal(_, _, _, _ []byte) []byte { panic(pkcs11.Error(pkcs11.CKR_DEVICE_REMOVED)) }

func newManager(t *testing.T, token Token) *KeyManager {
	t.Helper()
	m, err := NewWithToken(token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestConfigValidate(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libsofthsm2.so")
	require.NoError(t, os.WriteFile(lib, nil, 0o600))
	slot := 0

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Library: lib + ".missing", TokenLabel: "t"}).Validate(), ErrLibraryNotFound)
	assert.ErrorIs(t, (&Config{Library: lib}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Library: lib, TokenLabel: "t", Slot: &slot}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Library: lib, TokenLabel: "t", PIN: "12"}).Validate(), ErrInvalidPINLength)
	assert.NoError(t, (&Config{Library: lib, TokenLabel: "t", PIN: "1234"}).Validate())
	assert.NoError(t, (&Config{Library: lib, Slot: &slot}).Validate())

	cfg := &Config{Library: lib, TokenLabel: "t", PIN: "1234"}
	assert.True(t, cfg.IsSoftHSM())
	assert.NotContains(t, cfg.String(), "1234")
}

func TestGetOrCreateKey(t *testing.T) {
	token := newFakeToken()
	m := newManager(t, token)
	ctx := context.Background()

	p1, err := m.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	p2, err := m.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = newManager(t, token).GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	assert.Equal(t, 1, token.generated)
}

func TestSealOpen(t *testing.T) {
	ctx := context.Background()
	p, err := newManager(t, newFakeToken()).GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	c := aead.NewCipher(p)

	for _, pt := range [][]byte{{}, []byte("SensitiveData123")} {
		sealed, err := c.Seal(ctx, pt, []byte("entry"))
		require.NoError(t, err)
		assert.Len(t, sealed, 12+len(pt)+16)
		got, err := c.Open(ctx, sealed, []byte("entry"))
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}

	sealed, err := c.Seal(ctx, []byte("x"), []byte("a"))
	require.NoError(t, err)
	_, err = c.Open(ctx, sealed, []byte("b"))
	assert.True(t, types.IsAuthentication(err))
	_, err = c.Open(ctx, sealed[:20], []byte("a"))
	assert.True(t, types.IsAuthentication(err))
}

func TestSealPanicBecomesFault(t *testing.T) {
	token := newFakeToken()
	gcm, err := token.GenerateGCM(alias, keyBits)
	require.NoError(t, err)
	p := &primitive{gcm: panickyAEAD{gcm}, rand: rand.Reader, label: alias}

	_, err = p.Seal(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrSealFailed)
	assert.True(t, types.IsRetryable(err))
}

func TestFindErrors(t *testing.T) {
	token := newFakeToken()
	token.findErr = pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)
	_, err := newManager(t, token).GetOrCreateKey(context.Background(), alias)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))

	token.findErr = pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)
	_, err = newManager(t, token).GetOrCreateKey(context.Background(), alias)
	assert.True(t, types.IsRetryable(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, types.KindProviderFault, types.KindOf(classify("t", pkcs11.Error(pkcs11.CKR_DEVICE_ERROR), false)))
	assert.Equal(t, types.KindAuthentication, types.KindOf(classify("t", pkcs11.Error(pkcs11.CKR_ENCRYPTED_DATA_INVALID), true)))
	assert.Equal(t, types.KindUnknown, types.KindOf(classify("t", pkcs11.Error(pkcs11.CKR_ENCRYPTED_DATA_INVALID), false)))
	assert.Equal(t, types.KindUnknown, types.KindOf(classify("t", errors.New("plain"), false)))
	assert.Equal(t, types.KindAuthentication, types.KindOf(classify("t", errors.New("cipher: message authentication failed"), true)))
	assert.ErrorIs(t, classify("t", context.Canceled, true), context.Canceled)
}

func TestCloseClosesToken(t *testing.T) {
	token := newFakeToken()
	m, err := NewWithToken(token)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, token.closed)

	_, err = m.GetOrCreateKey(context.Background(), alias)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = NewWithToken(nil)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
}
