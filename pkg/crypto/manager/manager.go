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

// Package manager is the crypto core of go-encstore. A Manager binds a
// master key obtained from a kms.KeyManager to per-entry associated data
// derived from logical names, and runs every provider call under a retry
// policy.
//
// Example:
//
//	km, _ := software.New(&software.Config{KeyStorage: backend})
//	mgr, err := manager.New(ctx, &manager.Config{KeyManager: km})
//	if err != nil {
//	    return err
//	}
//	ct, err := mgr.Encrypt(ctx, []byte("SensitiveData123"), "password")
//	pt, err := mgr.Decrypt(ctx, ct, "password")
package manager

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/keyid"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/retry"
	"github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/metrics"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// DefaultKeyAlias is the master key alias used when Config.KeyAlias is empty.
const DefaultKeyAlias = "secure_data_store_master_key"

// probeName is the logical name sealed and opened by Probe.
const probeName = "encstore.health.probe"

// Config configures a Manager.
type Config struct {
	// KeyManager provisions the master key. Required.
	KeyManager kms.KeyManager

	// KeyAlias names the master key. Defaults to DefaultKeyAlias.
	KeyAlias string

	// Retry wraps provisioning and every encrypt or decrypt call.
	// Defaults to retry.New() with no options.
	Retry retry.Policy

	// Deriver maps logical names to storage identifiers. Defaults to SHA-256.
	Deriver keyid.Deriver

	// Logger defaults to a no-op logger.
	Logger logging.Logger

	// Provider labels metrics. Defaults to "custom".
	Provider string
}

// Manager encrypts and decrypts values bound to logical names. It holds
// no mutable state after construction and is safe for concurrent use.
type Manager struct {
	cipher   *aead.Cipher
	retry    retry.Policy
	deriver  keyid.Deriver
	logger   logging.Logger
	provider string
	alias    string
}

// New validates config and provisions the master key, creating it if it
// does not exist.
func New(ctx context.Context, config *Config) (*Manager, error) {
	if config == nil || config.KeyManager == nil {
		return nil, types.InvalidConfiguration("manager.new", "a key manager is required")
	}

	m := &Manager{
		retry:    config.Retry,
		deriver:  config.Deriver,
		logger:   config.Logger,
		provider: config.Provider,
		alias:    config.KeyAlias,
	}
	if m.alias == "" {
		m.alias = DefaultKeyAlias
	}
	if err := kms.ValidateAlias(m.alias); err != nil {
		return nil, err
	}
	if m.retry == nil {
		p, err := retry.New()
		if err != nil {
			return nil, err
		}
		m.retry = p
	}
	if m.deriver == nil {
		m.deriver = keyid.Default()
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.provider == "" {
		m.provider = "custom"
	}
	m.logger = m.logger.With(logging.String("provider", m.provider), logging.String("key_alias", m.alias))

	start := time.Now()
	prim, err := retry.Do(ctx, m.retry, counted(metrics.OpProvision, func(ctx context.Context) (aead.Primitive, error) {
		return config.KeyManager.GetOrCreateKey(ctx, m.alias)
	}))
	m.record(metrics.OpProvision, start, err)
	if err != nil {
		m.logger.ErrorContext(ctx, "master key provisioning failed", logging.Error(err))
		return nil, err
	}
	if prim == nil {
		return nil, types.Internal("manager.new", "key manager returned no primitive for %q", m.alias)
	}
	m.cipher = aead.NewCipher(prim)
	m.logger.InfoContext(ctx, "master key ready", logging.Duration("took", time.Since(start)))
	return m, nil
}

// Hash returns the storage identifier for name.
func (m *Manager) Hash(name string) keyid.ID {
	return m.deriver.Derive(name)
}

// Encrypt seals plaintext bound to name.
func (m *Manager) Encrypt(ctx context.Context, plaintext []byte, name string) ([]byte, error) {
	return m.EncryptBytes(ctx, plaintext, m.Hash(name).AAD())
}

// Decrypt opens ciphertext sealed for name. Ciphertext sealed for any
// other name fails with a types.KindAuthentication error.
func (m *Manager) Decrypt(ctx context.Context, ciphertext []byte, name string) ([]byte, error) {
	return m.DecryptBytes(ctx, ciphertext, m.Hash(name).AAD())
}

// EncryptBytes seals plaintext bound to aad.
func (m *Manager) EncryptBytes(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	start := time.Now()
	out, err := retry.Do(ctx, m.retry, counted(metrics.OpEncrypt, func(ctx context.Context) ([]byte, error) {
		return m.cipher.Seal(ctx, plaintext, aad)
	}))
	m.record(metrics.OpEncrypt, start, err)
	if err != nil {
		m.logFailure(ctx, metrics.OpEncrypt, aad, err)
		return nil, err
	}
	return out, nil
}

// DecryptBytes opens ciphertext bound to aad.
func (m *Manager) DecryptBytes(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	start := time.Now()
	out, err := retry.Do(ctx, m.retry, counted(metrics.OpDecrypt, func(ctx context.Context) ([]byte, error) {
		return m.cipher.Open(ctx, ciphertext, aad)
	}))
	m.record(metrics.OpDecrypt, start, err)
	if err != nil {
		m.logFailure(ctx, metrics.OpDecrypt, aad, err)
		return nil, err
	}
	return out, nil
}

// EncryptString seals value bound to name and returns padded standard
// base64.
func (m *Manager) EncryptString(ctx context.Context, value, name string) (string, error) {
	out, err := m.Encrypt(ctx, []byte(value), name)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString reverses EncryptString. Input that is not valid base64
// is reported as an authentication failure.
func (m *Manager) DecryptString(ctx context.Context, encoded, name string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", types.AuthenticationFailure("manager.decrypt_string", errors.Join(aead.ErrMalformedCiphertext, err))
	}
	out, err := m.Decrypt(ctx, raw, name)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Probe seals and opens a fixed value, exercising the provider end to end.
func (m *Manager) Probe(ctx context.Context) error {
	want := []byte(probeName)
	ct, err := m.Encrypt(ctx, want, probeName)
	if err != nil {
		return err
	}
	got, err := m.Decrypt(ctx, ct, probeName)
	if err != nil {
		return err
	}
	if string(got) != probeName {
		return types.Internal("manager.probe", "round trip returned different plaintext")
	}
	return nil
}

// KeyAlias returns the master key alias.
func (m *Manager) KeyAlias() string { return m.alias }

// Provider returns the provider label used in metrics and logs.
func (m *Manager) Provider() string { return m.provider }

// counted wraps op so every call after the first is reported as a retry.
// retry.Do runs op sequentially, so the counter needs no locking.
func counted[T any](op string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	calls := 0
	return func(ctx context.Context) (T, error) {
		if calls > 0 {
			metrics.RecordRetry(op)
		}
		calls++
		return fn(ctx)
	}
}

func (m *Manager) record(op string, start time.Time, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		metrics.RecordError(op, m.provider, errorType(err))
	}
	metrics.RecordOperation(op, m.provider, status, time.Since(start).Seconds())
}

// logFailure logs at warn for integrity failures. The identifier is logged,
// never the logical name or the data.
func (m *Manager) logFailure(ctx context.Context, op string, aad []byte, err error) {
	fields := []logging.Field{
		logging.String("operation", op),
		logging.String("id", string(aad)),
		logging.String("kind", types.KindOf(err).String()),
		logging.Error(err),
	}
	if types.IsAuthentication(err) {
		m.logger.WarnContext(ctx, "authentication failure", fields...)
		return
	}
	m.logger.ErrorContext(ctx, "crypto operation failed", fields...)
}

func errorType(err error) string {
	switch types.KindOf(err) {
	case types.KindAuthentication:
		return metrics.ErrorTypeAuthentication
	case types.KindProviderFault:
		return metrics.ErrorTypeProviderFault
	case types.KindInvalidConfiguration:
		return metrics.ErrorTypeConfiguration
	case types.KindInternal:
		return metrics.ErrorTypeInternal
	default:
		return metrics.ErrorTypeUnknown
	}
}
