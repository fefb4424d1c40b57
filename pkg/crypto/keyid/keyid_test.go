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

package keyid

import (
	"testing"

	"github.com/jeremyhahn/go-encstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKnownVectors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ID
	}{
		{"empty", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"password", "password", "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.in))
			assert.Equal(t, tt.want, Default().Derive(tt.in))
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, SHA512_256, BLAKE2b256} {
		t.Run(string(alg), func(t *testing.T) {
			d, err := New(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, d.Algorithm())

			a := d.Derive("user.session.token")
			b := d.Derive("user.session.token")
			assert.Equal(t, a, b)
			assert.True(t, IsValid(a.String()), "identifier %q should be 64 lowercase hex chars", a)
			assert.NotEqual(t, a, d.Derive("user.session.token2"))
		})
	}
}

func TestDeriveAlgorithmsDiffer(t *testing.T) {
	s512, err := New(SHA512_256)
	require.NoError(t, err)
	b2, err := New(BLAKE2b256)
	require.NoError(t, err)

	name := "password"
	assert.NotEqual(t, Derive(name), s512.Derive(name))
	assert.NotEqual(t, Derive(name), b2.Derive(name))
}

func TestNewEmptySelectsSHA256(t *testing.T) {
	d, err := New("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, d.Algorithm())

	d, err = New("SHA256")
	require.NoError(t, err)
	assert.Equal(t, SHA256, d.Algorithm())
}

func TestNewUnsupported(t *testing.T) {
	_, err := New("md5")
	require.Error(t, err)
	assert.Equal(t, types.KindInvalidConfiguration, types.KindOf(err))
}

func TestAADMatchesIdentifier(t *testing.T) {
	id := Derive("password")
	assert.Equal(t, []byte(id.String()), id.AAD())
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(Derive("x").String()))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("ABCDEF"))
	assert.False(t, IsValid("5E884898DA28047151D0E56F8DC6292773603D0D6AABBDD62A11EF721D1542D8"))
	assert.False(t, IsValid("keys/secure_data_store_master_key"))
}
