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

package awskms

import (
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

// DefaultPendingWindowDays is the deletion window for keys orphaned by a
// lost alias race.
const DefaultPendingWindowDays = 7

// Config contains configuration for the AWS KMS key manager.
type Config struct {
	// Region is the AWS region where KMS keys will be managed.
	// Examples: "us-east-1", "us-west-2", "eu-west-1"
	Region string `yaml:"region" json:"region" mapstructure:"region"`

	// AccessKeyID is the AWS access key ID.
	// Optional - if not provided, will use IAM role or environment credentials.
	AccessKeyID string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" mapstructure:"access_key_id"`

	// SecretAccessKey is the AWS secret access key.
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" mapstructure:"secret_access_key"`

	// SessionToken is the AWS session token for temporary credentials.
	SessionToken string `yaml:"session_token,omitempty" json:"session_token,omitempty" mapstructure:"session_token"`

	// Endpoint is a custom KMS endpoint URL.
	// Example: "http://localhost:4566" for LocalStack
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`

	// Description is set on keys this manager creates.
	Description string `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`

	// PendingWindowDays is the deletion window (7-30) for a key created
	// while another process won the alias. Defaults to 7.
	PendingWindowDays int32 `yaml:"pending_window_days,omitempty" json:"pending_window_days,omitempty" mapstructure:"pending_window_days"`

	// Logger receives warnings the key manager cannot return, such as a
	// failed cleanup of an orphaned key. Defaults to a no-op logger.
	Logger logging.Logger `yaml:"-" json:"-" mapstructure:"-"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}

	if c.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalidConfig)
	}
	if !isValidRegion(c.Region) {
		return fmt.Errorf("%w: %s", ErrInvalidRegion, c.Region)
	}

	// If static credentials are provided, both access key and secret must be present
	if (c.AccessKeyID != "" && c.SecretAccessKey == "") ||
		(c.AccessKeyID == "" && c.SecretAccessKey != "") {
		return fmt.Errorf("%w: both access_key_id and secret_access_key must be provided together", ErrInvalidConfig)
	}

	if c.PendingWindowDays != 0 && (c.PendingWindowDays < 7 || c.PendingWindowDays > 30) {
		return fmt.Errorf("%w: pending_window_days must be between 7 and 30", ErrInvalidConfig)
	}
	return nil
}

// String returns a string representation of the config with credentials masked.
func (c *Config) String() string {
	accessKeyMask := "<not set>"
	if c.AccessKeyID != "" {
		if len(c.AccessKeyID) > 4 {
			accessKeyMask = "****" + c.AccessKeyID[len(c.AccessKeyID)-4:]
		} else {
			accessKeyMask = "****"
		}
	}

	secretKeyMask := "<not set>"
	if c.SecretAccessKey != "" {
		secretKeyMask = "****"
	}

	sessionTokenMask := "<not set>"
	if c.SessionToken != "" {
		sessionTokenMask = "****"
	}

	endpointDisplay := "<default>"
	if c.Endpoint != "" {
		endpointDisplay = c.Endpoint
	}

	return fmt.Sprintf("AWS KMS Config{Region: %s, AccessKeyID: %s, SecretAccessKey: %s, SessionToken: %s, Endpoint: %s}",
		c.Region, accessKeyMask, secretKeyMask, sessionTokenMask, endpointDisplay)
}

func (c *Config) logger() logging.Logger {
	if c.Logger == nil {
		return logging.NewNop()
	}
	return c.Logger
}

func (c *Config) pendingWindow() int32 {
	if c.PendingWindowDays == 0 {
		return DefaultPendingWindowDays
	}
	return c.PendingWindowDays
}

// isValidRegion performs basic validation of AWS region format.
// Valid regions follow the pattern: us-east-1, eu-west-2, ap-southeast-1, etc.
func isValidRegion(region string) bool {
	if region == "local" || region == "us-east-1-local" {
		return true
	}

	parts := strings.Split(region, "-")
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, c := range part {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
				return false
			}
		}
	}
	return true
}
