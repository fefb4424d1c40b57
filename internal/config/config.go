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

// Package config loads the encstore application configuration from YAML
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/manager"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/retry"
	"github.com/jeremyhahn/go-encstore/pkg/ratelimit"
)

// Defaults applied by Default and when a loaded file leaves a field unset.
const (
	DefaultKeyAlias        = manager.DefaultKeyAlias
	DefaultProvider        = "software"
	DefaultStorageBackend  = "file"
	DefaultStoragePath     = "./data"
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8443
	DefaultMetricsPath     = "/metrics"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// ErrInvalidConfig is wrapped by every error returned from Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the complete encstore configuration
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Crypto    CryptoConfig     `yaml:"crypto"`
	KMS       KMSConfig        `yaml:"kms"`
	Storage   StorageConfig    `yaml:"storage"`
	Server    ServerConfig     `yaml:"server"`
	TLS       TLSConfig        `yaml:"tls"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Health    HealthConfig     `yaml:"health"`
	RateLimit ratelimit.Config `yaml:"ratelimit"`

	warnings []string
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CryptoConfig controls the crypto manager.
type CryptoConfig struct {
	KeyAlias string      `yaml:"key_alias"`
	Hash     string      `yaml:"hash"`
	Retry    RetryConfig `yaml:"retry"`
}

// RetryConfig configures exponential backoff for provider calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// KMSConfig selects the key-management provider. Only the block for the
// selected provider is read.
type KMSConfig struct {
	Provider string          `yaml:"provider"`
	Software *SoftwareConfig `yaml:"software,omitempty"`
	AWSKMS   *AWSKMSConfig   `yaml:"awskms,omitempty"`
	GCPKMS   *GCPKMSConfig   `yaml:"gcpkms,omitempty"`
	AzureKV  *AzureKVConfig  `yaml:"azurekv,omitempty"`
	Vault    *VaultConfig    `yaml:"vault,omitempty"`
	PKCS11   *PKCS11Config   `yaml:"pkcs11,omitempty"`
}

// SoftwareConfig contains software key manager settings
type SoftwareConfig struct {
	Algorithm string `yaml:"algorithm"`
	Password  string `yaml:"password"`

	// KeyPath stores key records in a separate file backend. Keys share
	// the entry backend when empty.
	KeyPath string `yaml:"key_path"`
}

// AWSKMSConfig contains AWS KMS settings
type AWSKMSConfig struct {
	Region            string `yaml:"region"`
	AccessKeyID       string `yaml:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key"`
	SessionToken      string `yaml:"session_token"`
	Endpoint          string `yaml:"endpoint"`
	PendingWindowDays int32  `yaml:"pending_window_days"`
}

// GCPKMSConfig contains Google Cloud KMS settings
type GCPKMSConfig struct {
	ProjectID       string `yaml:"project_id"`
	LocationID      string `yaml:"location_id"`
	KeyRingID       string `yaml:"key_ring_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	HSM             bool   `yaml:"hsm"`
}

// AzureKVConfig contains Azure Key Vault Managed HSM settings
type AzureKVConfig struct {
	VaultURL     string `yaml:"vault_url"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// VaultConfig contains HashiCorp Vault Transit settings
type VaultConfig struct {
	Address       string `yaml:"address"`
	Token         string `yaml:"token"`
	TransitPath   string `yaml:"transit_path"`
	Namespace     string `yaml:"namespace"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
}

// PKCS11Config contains PKCS#11 token settings
type PKCS11Config struct {
	Library     string `yaml:"library"`
	PIN         string `yaml:"pin"`
	TokenLabel  string `yaml:"token_label"`
	Slot        *int   `yaml:"slot,omitempty"`
	MaxSessions int    `yaml:"max_sessions"`
}

// StorageConfig selects the persistent substrate for entries.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Bucket      string `yaml:"bucket"`
	SyncWrites  bool   `yaml:"sync_writes"`
	WatchBuffer int    `yaml:"watch_buffer"`
}

// ServerConfig contains REST server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health endpoints
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration for a local file-backed store using
// the software provider.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Crypto: CryptoConfig{
			KeyAlias: DefaultKeyAlias,
			Hash:     "sha256",
			Retry: RetryConfig{
				MaxAttempts: retry.DefaultMaxAttempts,
				BaseDelay:   retry.DefaultBaseDelay,
				MaxDelay:    retry.DefaultMaxDelay,
			},
		},
		KMS: KMSConfig{
			Provider: DefaultProvider,
			Software: &SoftwareConfig{Algorithm: "aes256-gcm"},
		},
		Storage: StorageConfig{Backend: DefaultStorageBackend, Path: DefaultStoragePath},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Metrics:   MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		Health:    HealthConfig{Enabled: true},
		RateLimit: ratelimit.Config{RequestsPerMinute: 600, Burst: 50},
	}
	return cfg
}

// Load reads configuration from a YAML file over Default, applies
// environment variable overrides and validates the result. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Warnings returns the problems found while applying environment
// overrides. Rejected values leave the previous setting in place.
func (c *Config) Warnings() []string {
	return c.warnings
}

func (c *Config) warnf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	// Logging
	if level := os.Getenv("ENCSTORE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("ENCSTORE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Server settings
	if host := os.Getenv("ENCSTORE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if v := os.Getenv("ENCSTORE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		switch {
		case err != nil:
			cfg.warnf("invalid ENCSTORE_PORT value %q, using %d: %v", v, cfg.Server.Port, err)
		case port < 1 || port > 65535:
			cfg.warnf("invalid ENCSTORE_PORT value %q (out of range 1-65535), using %d", v, cfg.Server.Port)
		default:
			cfg.Server.Port = port
		}
	}

	// Crypto
	if alias := os.Getenv("ENCSTORE_KEY_ALIAS"); alias != "" {
		cfg.Crypto.KeyAlias = alias
	}
	if v := os.Getenv("ENCSTORE_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			cfg.warnf("invalid ENCSTORE_RETRY_MAX_ATTEMPTS value %q, using %d: %v", v, cfg.Crypto.Retry.MaxAttempts, err)
		} else {
			cfg.Crypto.Retry.MaxAttempts = n
		}
	}

	// Storage
	if backend := os.Getenv("ENCSTORE_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dataDir := os.Getenv("ENCSTORE_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}

	// Provider selection
	if provider := os.Getenv("ENCSTORE_KMS_PROVIDER"); provider != "" {
		cfg.KMS.Provider = provider
	}
	cfg.KMS.ensureSelected()

	if s := cfg.KMS.Software; s != nil {
		if pw := os.Getenv("ENCSTORE_KMS_PASSWORD"); pw != "" {
			s.Password = pw
		}
	}

	// PKCS#11 settings
	if p := cfg.KMS.PKCS11; p != nil {
		if lib := os.Getenv("PKCS11_LIBRARY"); lib != "" {
			p.Library = lib
		}
		if pin := os.Getenv("PKCS11_PIN"); pin != "" {
			p.PIN = pin
		}
		if label := os.Getenv("PKCS11_TOKEN_LABEL"); label != "" {
			p.TokenLabel = label
		}
	}

	// AWS KMS settings
	if a := cfg.KMS.AWSKMS; a != nil {
		if region := os.Getenv("AWS_REGION"); region != "" {
			a.Region = region
		}
		if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
			a.AccessKeyID = accessKey
		}
		if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
			a.SecretAccessKey = secretKey
		}
		if token := os.Getenv("AWS_SESSION_TOKEN"); token != "" {
			a.SessionToken = token
		}
		if endpoint := os.Getenv("AWS_ENDPOINT"); endpoint != "" {
			a.Endpoint = endpoint
		}
	}

	// GCP KMS settings
	if g := cfg.KMS.GCPKMS; g != nil {
		if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
			g.ProjectID = projectID
		}
		if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
			g.CredentialsFile = credsFile
		}
	}

	// Azure Key Vault settings
	if z := cfg.KMS.AzureKV; z != nil {
		if vaultURL := os.Getenv("AZURE_KEYVAULT_URL"); vaultURL != "" {
			z.VaultURL = vaultURL
		}
		if tenantID := os.Getenv("AZURE_TENANT_ID"); tenantID != "" {
			z.TenantID = tenantID
		}
		if clientID := os.Getenv("AZURE_CLIENT_ID"); clientID != "" {
			z.ClientID = clientID
		}
		if clientSecret := os.Getenv("AZURE_CLIENT_SECRET"); clientSecret != "" {
			z.ClientSecret = clientSecret
		}
	}

	// Vault settings
	if v := cfg.KMS.Vault; v != nil {
		if addr := os.Getenv("VAULT_ADDR"); addr != "" {
			v.Address = addr
		}
		if token := os.Getenv("VAULT_TOKEN"); token != "" {
			v.Token = token
		}
		if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
			v.Namespace = namespace
		}
	}
}

// ensureSelected allocates an empty block for the selected provider so
// environment overrides have somewhere to land.
func (k *KMSConfig) ensureSelected() {
	switch strings.ToLower(k.Provider) {
	case "software":
		if k.Software == nil {
			k.Software = &SoftwareConfig{}
		}
	case "awskms":
		if k.AWSKMS == nil {
			k.AWSKMS = &AWSKMSConfig{}
		}
	case "gcpkms":
		if k.GCPKMS == nil {
			k.GCPKMS = &GCPKMSConfig{}
		}
	case "azurekv":
		if k.AzureKV == nil {
			k.AzureKV = &AzureKVConfig{}
		}
	case "vault":
		if k.Vault == nil {
			k.Vault = &VaultConfig{}
		}
	case "pkcs11":
		if k.PKCS11 == nil {
			k.PKCS11 = &PKCS11Config{}
		}
	}
}

// Validate checks if the configuration is valid. Provider blocks are
// checked for presence only; each provider validates its own settings
// when it is constructed.
func (c *Config) Validate() error {
	// Validate logging level
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug, info, warn or error)", ErrInvalidConfig, c.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("%w: invalid log format: %s (must be json or text)", ErrInvalidConfig, c.Logging.Format)
	}

	// Validate crypto
	if c.Crypto.KeyAlias == "" {
		return fmt.Errorf("%w: crypto key_alias must be specified", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Crypto.Hash) {
	case "", "sha256", "sha512-256", "blake2b-256":
	default:
		return fmt.Errorf("%w: unsupported crypto hash: %s", ErrInvalidConfig, c.Crypto.Hash)
	}
	r := c.Crypto.Retry
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry max_attempts must be positive, got %d", ErrInvalidConfig, r.MaxAttempts)
	}
	if r.BaseDelay <= 0 || r.MaxDelay <= 0 {
		return fmt.Errorf("%w: retry delays must be positive", ErrInvalidConfig)
	}

	// Validate storage
	switch c.Storage.Backend {
	case "memory":
	case "file", "bolt", "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage path must be specified for backend %s", ErrInvalidConfig, c.Storage.Backend)
		}
	case "":
		return fmt.Errorf("%w: storage backend must be specified", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown storage backend: %s", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Storage.WatchBuffer < 0 {
		return fmt.Errorf("%w: storage watch_buffer cannot be negative", ErrInvalidConfig)
	}

	// Validate provider
	var present bool
	switch strings.ToLower(c.KMS.Provider) {
	case "software":
		present = c.KMS.Software != nil
	case "awskms":
		present = c.KMS.AWSKMS != nil
	case "gcpkms":
		present = c.KMS.GCPKMS != nil
	case "azurekv":
		present = c.KMS.AzureKV != nil
	case "vault":
		present = c.KMS.Vault != nil
	case "pkcs11":
		present = c.KMS.PKCS11 != nil
	case "":
		return fmt.Errorf("%w: kms provider must be specified", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown kms provider: %s", ErrInvalidConfig, c.KMS.Provider)
	}
	if !present {
		return fmt.Errorf("%w: kms.%s settings are required", ErrInvalidConfig, strings.ToLower(c.KMS.Provider))
	}

	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port: %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics path must start with '/'", ErrInvalidConfig)
	}

	// Validate TLS settings
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("%w: TLS cert_file is required when TLS is enabled", ErrInvalidConfig)
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("%w: TLS key_file is required when TLS is enabled", ErrInvalidConfig)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: ratelimit requests_per_min must be positive", ErrInvalidConfig)
	}
	return nil
}
