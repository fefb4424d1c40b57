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

//go:build azurekv

package azurekv

import (
	"fmt"
	"strings"
)

// Config contains configuration for the Azure Key Vault key manager.
// Symmetric AES-GCM keys require a Managed HSM.
type Config struct {
	// VaultURL is the Managed HSM URL.
	// Format: https://{hsm-name}.managedhsm.azure.net/
	// Required.
	VaultURL string `yaml:"vault_url" json:"vault_url" mapstructure:"vault_url"`

	// TenantID is the Azure Active Directory tenant ID.
	// Optional - if not provided, will use DefaultAzureCredential.
	TenantID string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty" mapstructure:"tenant_id"`

	// ClientID is the Azure service principal client ID.
	ClientID string `yaml:"client_id,omitempty" json:"client_id,omitempty" mapstructure:"client_id"`

	// ClientSecret is the Azure service principal client secret.
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty" mapstructure:"client_secret"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.VaultURL == "" {
		return fmt.Errorf("%w: vault URL is required", ErrInvalidConfig)
	}
	if !isValidVaultURL(c.VaultURL) {
		return fmt.Errorf("%w: %s", ErrInvalidVaultURL, c.VaultURL)
	}

	// If service principal credentials are provided, all three must be present
	hasClientID := c.ClientID != ""
	hasClientSecret := c.ClientSecret != ""
	hasTenantID := c.TenantID != ""
	if hasClientID || hasClientSecret || hasTenantID {
		if !hasClientID || !hasClientSecret || !hasTenantID {
			return fmt.Errorf("%w: tenant_id, client_id, and client_secret must all be provided together", ErrInvalidConfig)
		}
	}
	return nil
}

// String returns a string representation of the config with sensitive data masked.
func (c *Config) String() string {
	return fmt.Sprintf("Azure Key Vault Config{VaultURL: %s, TenantID: %s, ClientID: %s, ClientSecret: %s}",
		c.VaultURL, maskTail(c.TenantID), maskTail(c.ClientID), maskAll(c.ClientSecret))
}

func maskTail(s string) string {
	switch {
	case s == "":
		return "<not set>"
	case len(s) > 4:
		return "****" + s[len(s)-4:]
	default:
		return "****"
	}
}

func maskAll(s string) string {
	if s == "" {
		return "<not set>"
	}
	return "****"
}

// isValidVaultURL performs basic validation of the vault URL format.
func isValidVaultURL(url string) bool {
	if !strings.HasPrefix(url, "https://") {
		return false
	}
	url = strings.TrimPrefix(url, "https://")

	// Allow localhost for testing
	if strings.HasPrefix(url, "localhost") || strings.HasPrefix(url, "127.0.0.1") {
		return true
	}

	for _, domain := range []string{
		".managedhsm.azure.net",
		".managedhsm.azure.cn",
		".managedhsm.usgovcloudapi.net",
		".vault.azure.net",
		".vault.azure.cn",
		".vault.usgovcloudapi.net",
	} {
		if strings.Contains(url, domain) {
			return true
		}
	}
	return false
}
