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
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/kms/apiv1/kmspb"
)

// Config contains configuration for the GCP KMS key manager.
// Crypto keys are created inside an existing key ring.
type Config struct {
	// ProjectID is the GCP project ID where the KMS resources are located.
	// Required.
	ProjectID string `yaml:"project_id" json:"project_id" mapstructure:"project_id"`

	// LocationID is the GCP location (region) for KMS resources.
	// Examples: "us-east1", "us-central1", "global"
	// Required.
	LocationID string `yaml:"location_id" json:"location_id" mapstructure:"location_id"`

	// KeyRingID is the key ring identifier within the project and location.
	// Required.
	KeyRingID string `yaml:"key_ring_id" json:"key_ring_id" mapstructure:"key_ring_id"`

	// CredentialsFile is the path to a service account JSON key file.
	// Optional. If not provided, uses Application Default Credentials (ADC).
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty" mapstructure:"credentials_file"`

	// CredentialsJSON contains the service account JSON key content.
	// Optional. Takes precedence over CredentialsFile if both are provided.
	CredentialsJSON []byte `yaml:"credentials_json,omitempty" json:"credentials_json,omitempty" mapstructure:"credentials_json"`

	// Endpoint is a custom KMS API endpoint.
	// Example: "localhost:8080" for local emulator
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`

	// HSM creates new crypto keys at the HSM protection level instead of
	// SOFTWARE.
	HSM bool `yaml:"hsm" json:"hsm" mapstructure:"hsm"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.ProjectID == "" {
		return fmt.Errorf("%w: project ID is required", ErrInvalidProjectID)
	}
	if c.LocationID == "" {
		return fmt.Errorf("%w: location ID is required", ErrInvalidLocationID)
	}
	if c.KeyRingID == "" {
		return fmt.Errorf("%w: key ring ID is required", ErrInvalidKeyRingID)
	}

	// If credentials file is specified, verify it exists
	if c.CredentialsFile != "" && len(c.CredentialsJSON) == 0 {
		if _, err := os.Stat(c.CredentialsFile); os.IsNotExist(err) {
			return fmt.Errorf("%w: credentials file not found: %s", ErrInvalidCredentials, c.CredentialsFile)
		}
	}
	return nil
}

// KeyRingName returns the fully qualified key ring resource name.
// Format: projects/{project}/locations/{location}/keyRings/{keyRing}
func (c *Config) KeyRingName() string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s",
		c.ProjectID, c.LocationID, c.KeyRingID)
}

// CryptoKeyName returns the resource name of the crypto key for alias.
func (c *Config) CryptoKeyName(alias string) string {
	return c.KeyRingName() + "/cryptoKeys/" + alias
}

func (c *Config) protectionLevel() kmspb.ProtectionLevel {
	if c.HSM {
		return kmspb.ProtectionLevel_HSM
	}
	return kmspb.ProtectionLevel_SOFTWARE
}

// String returns a string representation of the config with sensitive data masked.
func (c *Config) String() string {
	credsMask := "<not set>"
	if len(c.CredentialsJSON) > 0 {
		credsMask = fmt.Sprintf("<json: %d bytes>", len(c.CredentialsJSON))
	} else if c.CredentialsFile != "" {
		credsMask = maskPath(c.CredentialsFile)
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = "<default>"
	}

	return fmt.Sprintf("GCP KMS Config{Project: %s, Location: %s, KeyRing: %s, Credentials: %s, Endpoint: %s, HSM: %t}",
		c.ProjectID, c.LocationID, c.KeyRingID, credsMask, endpoint, c.HSM)
}

// maskPath masks the middle portion of a file path.
// Example: /home/user/keys/credentials.json becomes /.../credentials.json
func maskPath(path string) string {
	parts := strings.Split(path, string(os.PathSeparator))
	if len(parts) <= 2 {
		return path
	}
	masked := []string{parts[0]}
	if len(parts) > 3 {
		masked = append(masked, "...")
	}
	masked = append(masked, parts[len(parts)-1])
	return strings.Join(masked, string(os.PathSeparator))
}
