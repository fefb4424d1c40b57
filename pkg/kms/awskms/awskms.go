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

//go:build awskms

// Package awskms implements kms.KeyManager on AWS KMS symmetric keys.
//
// The master key is a SYMMETRIC_DEFAULT key reached through
// "alias/<alias>". Encryption is delegated to the KMS Encrypt and Decrypt
// APIs, with the associated data bound as the "aad" encryption context
// entry. Key material never leaves KMS.
package awskms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/jeremyhahn/go-encstore/pkg/crypto/aead"
	kmsapi "github.com/jeremyhahn/go-encstore/pkg/kms"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

// envelopeV1 prefixes every plaintext sent to KMS, which rejects empty
// plaintexts.
const envelopeV1 byte = 0x01

const contextKey = "aad"

// KeyManager is an AWS KMS kms.KeyManager.
type KeyManager struct {
	config *Config
	client KMSClient

	mu     sync.Mutex
	keys   map[string]aead.Primitive
	closed bool
}

var _ kmsapi.KeyManager = (*KeyManager)(nil)

// New creates a key manager with a KMS client built from config. SDK
// retries are disabled; callers own the retry policy.
func New(ctx context.Context, config *Config) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "awskms.new", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			config.SessionToken,
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "awskms.new",
			fmt.Errorf("failed to load AWS config: %w", err))
	}

	var clientOpts []func(*kms.Options)
	if config.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return NewWithClient(config, kms.NewFromConfig(cfg, clientOpts...))
}

// NewWithClient creates a key manager around an existing client.
// This is primarily used for testing with mock clients.
func NewWithClient(config *Config, client KMSClient) (*KeyManager, error) {
	if err := config.Validate(); err != nil {
		return nil, types.New(types.KindInvalidConfiguration, "awskms.new", err)
	}
	if client == nil {
		return nil, types.InvalidConfiguration("awskms.new", "nil KMS client")
	}
	return &KeyManager{
		config: config,
		client: client,
		keys:   make(map[string]aead.Primitive),
	}, nil
}

// GetOrCreateKey resolves alias/<alias>, creating a key and the alias
// when absent. When another process creates the alias first, the key
// created here is scheduled for deletion and the winner is used.
func (m *KeyManager) GetOrCreateKey(ctx context.Context, alias string) (aead.Primitive, error) {
	const op = "awskms.get_or_create_key"
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

	aliasName := "alias/" + alias
	keyID, err := m.describe(ctx, aliasName)
	var notFound *kmstypes.NotFoundException
	if errors.As(err, &notFound) {
		keyID, err = m.create(ctx, aliasName)
	}
	if err != nil {
		return nil, classify(op, err)
	}

	prim := &primitive{client: m.client, keyID: keyID}
	m.keys[alias] = prim
	return prim, nil
}

// Close drops cached primitives.
func (m *KeyManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.keys = nil
	return nil
}

func (m *KeyManager) describe(ctx context.Context, aliasName string) (string, error) {
	out, err := m.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(aliasName)})
	if err != nil {
		return "", err
	}
	if out == nil || out.KeyMetadata == nil {
		return "", fmt.Errorf("awskms: empty DescribeKey response for %s", aliasName)
	}
	md := out.KeyMetadata
	if md.KeySpec != kmstypes.KeySpecSymmetricDefault || md.KeyUsage != kmstypes.KeyUsageTypeEncryptDecrypt {
		return "", fmt.Errorf("%w: %s is %s/%s", ErrUnsuitableKey, aliasName, md.KeySpec, md.KeyUsage)
	}
	return aws.ToString(md.KeyId), nil
}

func (m *KeyManager) create(ctx context.Context, aliasName string) (string, error) {
	description := m.config.Description
	if description == "" {
		description = "go-encstore master key " + aliasName
	}
	out, err := m.client.CreateKey(ctx, &kms.CreateKeyInput{
		KeySpec:     kmstypes.KeySpecSymmetricDefault,
		KeyUsage:    kmstypes.KeyUsageTypeEncryptDecrypt,
		Description: aws.String(description),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create KMS key: %w", err)
	}
	if out == nil || out.KeyMetadata == nil {
		return "", errors.New("awskms: empty CreateKey response")
	}
	keyID := aws.ToString(out.KeyMetadata.KeyId)

	_, err = m.client.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(aliasName),
		TargetKeyId: aws.String(keyID),
	})
	if err == nil {
		return keyID, nil
	}

	var exists *kmstypes.AlreadyExistsException
	if !errors.As(err, &exists) {
		return "", fmt.Errorf("failed to create alias %s: %w", aliasName, err)
	}

	// Lost the race: retire our key and use the winner's.
	if _, err := m.client.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(keyID),
		PendingWindowInDays: aws.Int32(m.config.pendingWindow()),
	}); err != nil {
		m.config.logger().WarnContext(ctx, "failed to schedule deletion of orphaned key",
			logging.String("key_id", keyID),
			logging.String("alias", aliasName),
			logging.Error(err))
	}
	return m.describe(ctx, aliasName)
}

// primitive encrypts through the KMS Encrypt and Decrypt APIs.
type primitive struct {
	client KMSClient
	keyID  string
}

func (p *primitive) String() string {
	return "awskms:" + p.keyID
}

func (p *primitive) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	input := &kms.EncryptInput{
		KeyId:             aws.String(p.keyID),
		Plaintext:         append([]byte{envelopeV1}, plaintext...),
		EncryptionContext: encryptionContext(aad),
	}
	out, err := p.client.Encrypt(ctx, input)
	if err != nil {
		return nil, classify("awskms.encrypt", err)
	}
	if out == nil || len(out.CiphertextBlob) == 0 {
		return nil, types.ProviderFault("awskms.encrypt", errors.New("empty ciphertext blob"))
	}
	return out.CiphertextBlob, nil
}

func (p *primitive) Open(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, aead.ErrMalformedCiphertext
	}
	input := &kms.DecryptInput{
		KeyId:             aws.String(p.keyID),
		CiphertextBlob:    ciphertext,
		EncryptionContext: encryptionContext(aad),
	}
	out, err := p.client.Decrypt(ctx, input)
	if err != nil {
		return nil, classify("awskms.decrypt", err)
	}
	if out == nil || len(out.Plaintext) == 0 || out.Plaintext[0] != envelopeV1 {
		return nil, types.AuthenticationFailure("awskms.decrypt", ErrMalformedPlaintext)
	}
	return out.Plaintext[1:], nil
}

// encryptionContext carries aad as a single base64 entry; KMS requires
// UTF-8 context values.
func encryptionContext(aad []byte) map[string]string {
	if len(aad) == 0 {
		return nil
	}
	return map[string]string{contextKey: base64.StdEncoding.EncodeToString(aad)}
}
