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

//go:build pkcs11

package pkcs11

import (
	"crypto/cipher"

	"github.com/ThalesGroup/crypto11"
)

// Token is the slice of a PKCS#11 token the key manager needs: finding
// and generating labelled AES keys and opening GCM on them.
type Token interface {
	// FindGCM returns nil, nil when no key carries label.
	FindGCM(label string) (cipher.AEAD, error)
	GenerateGCM(label string, bits int) (cipher.AEAD, error)
	Close() error
}

// crypto11Token is a Token backed by a crypto11 context.
type crypto11Token struct {
	ctx *crypto11.Context
}

func openToken(config *Config) (*crypto11Token, error) {
	ctx, err := crypto11.Configure(&crypto11.Config{
		Path:        config.Library,
		TokenLabel:  config.TokenLabel,
		SlotNumber:  config.Slot,
		Pin:         config.PIN,
		MaxSessions: config.MaxSessions,
	})
	if err != nil {
		return nil, err
	}
	return &crypto11Token{ctx: ctx}, nil
}

func (t *crypto11Token) FindGCM(label string) (cipher.AEAD, error) {
	key, err := t.ctx.FindKey(nil, []byte(label))
	if err != nil || key == nil {
		return nil, err
	}
	return key.NewGCM()
}

func (t *crypto11Token) GenerateGCM(label string, bits int) (cipher.AEAD, error) {
	key, err := t.ctx.GenerateSecretKeyWithLabel([]byte(label), []byte(label), bits, crypto11.CipherAES)
	if err != nil {
		return nil, err
	}
	return key.NewGCM()
}

func (t *crypto11Token) Close() error {
	return t.ctx.Close()
}
