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

package kms

import (
	"strings"
	"testing"

	"github.com/jeremyhahn/go-encstore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestValidateAlias(t *testing.T) {
	valid := []string{"secure_data_store_master_key", "a", "key-1", strings.Repeat("x", 63)}
	for _, alias := range valid {
		assert.NoError(t, ValidateAlias(alias), alias)
	}

	invalid := []string{"", "has space", "alias/key", "dots.are.out", strings.Repeat("x", 64), "ünïcode"}
	for _, alias := range invalid {
		err := ValidateAlias(alias)
		assert.Error(t, err, alias)
		assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
	}
}

func TestProviderString(t *testing.T) {
	assert.Equal(t, "software", ProviderSoftware.String())
	assert.Equal(t, "awskms", ProviderAWSKMS.String())
}
