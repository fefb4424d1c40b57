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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const alias = "secure_data_store_master_key"

// transitServer emulates the Transit endpoints used by the key manager
// with real AES-256-GCM.
type transitServer struct {
	mu       sync.Mutex
	keys     map[string]cipher.AEAD
	keyTypes map[string]string
	creates  atomic.Int32
	fail     atomic.Int32 // status to return for the next request, 0 for none
}

func newTransitServer(t *testing.T) (*transitServer, *httptest.Server) {
	t.Helper()
	ts := &transitServer{keys: make(map[string]cipher.AEAD), keyTypes: make(map[string]string)}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	return ts, srv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"errors": []string{msg}})
}

func (ts *transitServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Vault-Token") != "root" {
		fail(w, http.StatusForbidden, "permission denied")
		return
	}
	if code := ts.fail.Swap(0); code != 0 {
		fail(w, int(code), "injected")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/"), "/")
	if len(parts) != 3 || parts[0] != "transit" {
		fail(w, http.StatusNotFound, "no handler for route")
		return
	}
	op, name := parts[1], parts[2]

	var body map[string]string
	if r.Method != http.MethodGet {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	switch {
	case op == "keys" && r.Method == http.MethodGet:
		kt, ok := ts.keyTypes[name]
		if !ok {
			fail(w, http.StatusNotFound, "key not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"type": kt, "name": name}})

	case op == "keys":
		if _, ok := ts.keyTypes[name]; !ok {
			key := make([]byte, 32)
			_, _ = rand.Read(key)
			block, _ := aes.NewCipher(key)
			ts.keys[name], _ = cipher.NewGCM(block)
			ts.keyTypes[name] = body["type"]
			ts.creates.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)

	case op == "encrypt":
		g, ok := ts.keys[name]
		if !ok {
			fail(w, http.StatusBadRequest, "encryption key not found")
			return
		}
		pt, err := base64.StdEncoding.DecodeString(body["plaintext"])
		if err != nil || body["plaintext"] == "" {
			fail(w, http.StatusBadRequest, "missing plaintext to encrypt")
			return
		}
		ad, _ := base64.StdEncoding.DecodeString(body["associated_data"])
		nonce := make([]byte, g.NonceSize())
		_, _ = rand.Read(nonce)
		ct := g.Seal(nonce, nonce, pt, ad)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"ciphertext": "vault:v1:" + base64.StdEncoding.EncodeToString(ct),
		}})

	case op == "decrypt":
		g, ok := ts.keys[name]
		if !ok {
			fail(w, http.StatusBadRequest, "encryption key not found")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body["ciphertext"], "vault:v1:"))
		if err != nil || len(raw) < g.NonceSize() {
			fail(w, http.StatusBadRequest, "invalid ciphertext")
			return
		}
		ad, _ := base64.StdEncoding.DecodeString(body["associated_data"])
		pt, err := g.Open(nil, raw[:g.NonceSize()], raw[g.NonceSize():], ad)
		if err != nil {
			fail(w, http.StatusBadRequest, "cipher: message authentication failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"plaintext": base64.StdEncoding.EncodeToString(pt),
		}})

	default:
		fail(w, http.StatusNotFound, "unsupported path")
	}
}

func newManager(t *testing.T, addr string) *KeyManager {
	t.Helper()
	m, err := New(&Config{Address: addr, Token: "root"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestConfigValidate(t *testing.T) {
	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Token: "t"}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Address: "127.0.0.1:8200", Token: "t"}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Address: "http://127.0.0.1:8200"}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Address: "http://127.0.0.1:8200", Token: "t", TransitPath: "/transit"}).Validate(), ErrInvalidConfig)
	assert.NoError(t, (&Config{Address: "http://127.0.0.1:8200", Token: "t"}).Validate())
}

func TestConfigStringMasksToken(t *testing.T) {
	cfg := &Config{Address: "http://127.0.0.1:8200", Token: "s.secrettoken"}
	assert.NotContains(t, cfg.String(), "secrettoken")
	assert.Contains(t, cfg.String(), "TransitPath: transit")
}

func TestGetOrCreateKeyIsIdempotent(t *testing.T) {
	ts, srv := newTransitServer(t)
	ctx := context.Background()

	m := newManager(t, srv.URL)
	p1, err := m.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	p2, err := m.GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = newManager(t, srv.URL).GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ts.creates.Load())
}

func TestSealOpen(t *testing.T) {
	_, srv := newTransitServer(t)
	ctx := context.Background()
	p, err := newManager(t, srv.URL).GetOrCreateKey(ctx, alias)
	require.NoError(t, err)
	c := aead.NewCipher(p)

	for _, pt := range [][]byte{{}, []byte("SensitiveData123")} {
		sealed, err := c.Seal(ctx, pt, []byte("entry"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(sealed), "vault:v1:"))

		got, err := c.Open(ctx, sealed, []byte("entry"))
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}

	sealed, err := c.Seal(ctx, []byte("x"), []byte("a"))
	require.NoError(t, err)
	_, err = c.Open(ctx, sealed, []byte("b"))
	assert.True(t, types.IsAuthentication(err))

	_, err = c.Open(ctx, []byte("not a vault ciphertext"), nil)
	assert.True(t, types.IsAuthentication(err))
}

func TestServerFaultsAreRetryable(t *testing.T) {
	ts, srv := newTransitServer(t)
	ctx := context.Background()
	p, err := newManager(t, srv.URL).GetOrCreateKey(ctx, alias)
	require.NoError(t, err)

	ts.fail.Store(http.StatusServiceUnavailable)
	_, err = aead.NewCipher(p).Seal(ctx, []byte("x"), nil)
	assert.True(t, types.IsRetryable(err))

	// The injected failure is consumed; the next call succeeds.
	_, err = aead.NewCipher(p).Seal(ctx, []byte("x"), nil)
	assert.NoError(t, err)
}

func TestPermissionDeniedIsFatal(t *testing.T) {
	_, srv := newTransitServer(t)
	m, err := New(&Config{Address: srv.URL, Token: "wrong"})
	require.NoError(t, err)
	_, err = m.GetOrCreateKey(context.Background(), alias)
	require.Error(t, err)
	assert.Equal(t, types.KindUnknown, types.KindOf(err))
}

func TestMissingMountIsConfiguration(t *testing.T) {
	_, srv := newTransitServer(t)
	m, err := New(&Config{Address: srv.URL, Token: "root", TransitPath: "elsewhere"})
	require.NoError(t, err)
	_, err = m.GetOrCreateKey(context.Background(), alias)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
}

func TestUnsuitableKey(t *testing.T) {
	logical := &MockLogicalClient{
		ReadFunc: func(context.Context, string) (*vaultapi.Secret, error) {
			return &vaultapi.Secret{Data: map[string]interface{}{"type": "rsa-2048"}}, nil
		},
	}
	m, err := NewWithClient(&Config{Address: "http://vault:8200", Token: "t"}, logical)
	require.NoError(t, err)
	_, err = m.GetOrCreateKey(context.Background(), alias)
	assert.ErrorIs(t, err, ErrUnsuitableKey)
}

func TestOpenRejectsMissingEnvelope(t *testing.T) {
	logical := &MockLogicalClient{
		WriteFunc: func(context.Context, string, map[string]interface{}) (*vaultapi.Secret, error) {
			return &vaultapi.Secret{Data: map[string]interface{}{
				"plaintext": base64.StdEncoding.EncodeToString([]byte("raw")),
			}}, nil
		},
	}
	p := &primitive{logical: logical, decryptPath: "transit/decrypt/k"}
	_, err := p.Open(context.Background(), []byte("vault:v1:abc"), nil)
	assert.ErrorIs(t, err, ErrMalformedPlaintext)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want types.Kind
	}{
		{http.StatusTooManyRequests, types.KindProviderFault},
		{http.StatusServiceUnavailable, types.KindProviderFault},
		{http.StatusInternalServerError, types.KindProviderFault},
		{http.StatusNotImplemented, types.KindInvalidConfiguration},
		{http.StatusNotFound, types.KindInvalidConfiguration},
		{http.StatusForbidden, types.KindUnknown},
	}
	for _, tt := range tests {
		err := &vaultapi.ResponseError{StatusCode: tt.code}
		assert.Equal(t, tt.want, types.KindOf(classify("test", err)), http.StatusText(tt.code))
	}
	assert.Equal(t, types.KindUnknown, types.KindOf(classify("test", errors.New("plain"))))
	assert.ErrorIs(t, classify("test", context.Canceled), context.Canceled)
}

func TestClosed(t *testing.T) {
	_, srv := newTransitServer(t)
	m := newManager(t, srv.URL)
	require.NoError(t, m.Close())
	_, err := m.GetOrCreateKey(context.Background(), alias)
	assert.ErrorIs(t, err, ErrClosed)
}
