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

package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCert writes a self-signed certificate and key and returns their paths.
func writeCert(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestLoadTLSConfigDisabled(t *testing.T) {
	cfg := &TLSConfig{}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestLoadTLSConfig(t *testing.T) {
	certPath, keyPath := writeCert(t)
	cfg := &TLSConfig{
		Enabled:      true,
		CertFile:     certPath,
		KeyFile:      keyPath,
		MinVersion:   "TLS1.3",
		CipherSuites: []string{"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384"},
		ClientAuth:   "require_and_verify",
		ClientCAs:    []string{certPath},
	}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.Len(t, tlsCfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsCfg.MinVersion)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}, tlsCfg.CipherSuites)
	assert.Equal(t, tls.RequireAndVerifyClientCert, tlsCfg.ClientAuth)
	assert.NotNil(t, tlsCfg.ClientCAs)
}

func TestLoadTLSConfigDefaultsToTLS12(t *testing.T) {
	certPath, keyPath := writeCert(t)
	tlsCfg, err := (&TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath}).LoadTLSConfig()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, tlsCfg.ClientAuth)
}

func TestLoadTLSConfigErrors(t *testing.T) {
	certPath, keyPath := writeCert(t)
	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))

	tests := []struct {
		name string
		cfg  TLSConfig
	}{
		{"missing cert", TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: keyPath}},
		{"old version", TLSConfig{CertFile: certPath, KeyFile: keyPath, MinVersion: "TLS1.0"}},
		{"unknown suite", TLSConfig{CertFile: certPath, KeyFile: keyPath, CipherSuites: []string{"TLS_NULL"}}},
		{"unknown client auth", TLSConfig{CertFile: certPath, KeyFile: keyPath, ClientAuth: "sometimes"}},
		{"missing ca", TLSConfig{CertFile: certPath, KeyFile: keyPath, ClientCAs: []string{"/nonexistent/ca.pem"}}},
		{"bad ca", TLSConfig{CertFile: certPath, KeyFile: keyPath, ClientCAs: []string{bad}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Enabled = true
			_, err := tt.cfg.LoadTLSConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseClientAuthType(t *testing.T) {
	tests := map[string]tls.ClientAuthType{
		"":                   tls.NoClientCert,
		"none":               tls.NoClientCert,
		"request":            tls.RequestClientCert,
		"require":            tls.RequireAnyClientCert,
		"verify":             tls.VerifyClientCertIfGiven,
		"require_and_verify": tls.RequireAndVerifyClientCert,
	}
	for in, want := range tests {
		got, err := parseClientAuthType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
