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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultKeyAlias, cfg.Crypto.KeyAlias)
	assert.Equal(t, "software", cfg.KMS.Provider)
	assert.Equal(t, "127.0.0.1:8443", cfg.Server.Address())
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultStorageBackend, cfg.Storage.Backend)
}

func TestLoadSuccess(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
crypto:
  key_alias: app_master
  hash: blake2b-256
  retry:
    max_attempts: 3
    base_delay: 50ms
    max_delay: 2s
kms:
  provider: vault
  vault:
    address: https://vault.example.com:8200
    token: s.abc
    transit_path: transit
storage:
  backend: bolt
  path: /var/lib/encstore/store.db
server:
  port: 9000
ratelimit:
  enabled: true
  requests_per_min: 120
  burst: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "app_master", cfg.Crypto.KeyAlias)
	assert.Equal(t, 3, cfg.Crypto.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Crypto.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Crypto.Retry.MaxDelay)
	require.NotNil(t, cfg.KMS.Vault)
	assert.Equal(t, "s.abc", cfg.KMS.Vault.Token)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, DefaultHost, cfg.Server.Host, "unset fields keep defaults")
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "logging: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "kms:\n  provider: tpm2\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENCSTORE_LOG_LEVEL", "warn")
	t.Setenv("ENCSTORE_PORT", "9443")
	t.Setenv("ENCSTORE_STORAGE_BACKEND", "badger")
	t.Setenv("ENCSTORE_DATA_DIR", "/tmp/encstore")
	t.Setenv("ENCSTORE_KEY_ALIAS", "from_env")
	t.Setenv("ENCSTORE_KMS_PROVIDER", "awskms")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/encstore", cfg.Storage.Path)
	assert.Equal(t, "from_env", cfg.Crypto.KeyAlias)
	assert.Equal(t, "awskms", cfg.KMS.Provider)
	require.NotNil(t, cfg.KMS.AWSKMS, "selecting a provider allocates its block")
	assert.Equal(t, "eu-west-1", cfg.KMS.AWSKMS.Region)
	assert.Equal(t, "AKIAEXAMPLE", cfg.KMS.AWSKMS.AccessKeyID)
	assert.Empty(t, cfg.Warnings())
}

func TestEnvOverridesProviderBlocks(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")
	t.Setenv("VAULT_TOKEN", "root")
	t.Setenv("PKCS11_PIN", "1234")

	cfg := Default()
	cfg.KMS.Vault = &VaultConfig{}
	applyEnvOverrides(cfg)
	assert.Equal(t, "http://127.0.0.1:8200", cfg.KMS.Vault.Address)
	assert.Equal(t, "root", cfg.KMS.Vault.Token)
	assert.Nil(t, cfg.KMS.PKCS11, "unselected blocks are not created")
}

func TestEnvOverridesInvalidPort(t *testing.T) {
	for _, v := range []string{"abc", "0", "70000"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("ENCSTORE_PORT", v)
			cfg := Default()
			applyEnvOverrides(cfg)
			assert.Equal(t, DefaultPort, cfg.Server.Port)
			require.Len(t, cfg.Warnings(), 1)
			assert.Contains(t, cfg.Warnings()[0], "ENCSTORE_PORT")
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"empty alias", func(c *Config) { c.Crypto.KeyAlias = "" }},
		{"bad hash", func(c *Config) { c.Crypto.Hash = "md5" }},
		{"zero attempts", func(c *Config) { c.Crypto.Retry.MaxAttempts = 0 }},
		{"negative attempts", func(c *Config) { c.Crypto.Retry.MaxAttempts = -1 }},
		{"zero base delay", func(c *Config) { c.Crypto.Retry.BaseDelay = 0 }},
		{"negative max delay", func(c *Config) { c.Crypto.Retry.MaxDelay = -time.Second }},
		{"no backend", func(c *Config) { c.Storage.Backend = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"file without path", func(c *Config) { c.Storage.Path = "" }},
		{"negative watch buffer", func(c *Config) { c.Storage.WatchBuffer = -1 }},
		{"no provider", func(c *Config) { c.KMS.Provider = "" }},
		{"unknown provider", func(c *Config) { c.KMS.Provider = "tpm2" }},
		{"missing provider block", func(c *Config) { c.KMS.Provider = "gcpkms" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"tls without cert", func(c *Config) { c.TLS = TLSConfig{Enabled: true, KeyFile: "k"} }},
		{"tls without key", func(c *Config) { c.TLS = TLSConfig{Enabled: true, CertFile: "c"} }},
		{"ratelimit without rate", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.RequestsPerMinute = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateMemoryNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Storage = StorageConfig{Backend: "memory"}
	assert.NoError(t, cfg.Validate())
}
