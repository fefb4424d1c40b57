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

package storage

import (
	"strings"
)

// KeyPath returns the storage path for a master key record with the
// given alias. The path follows the convention: keys/{alias}.key
func KeyPath(alias string) string {
	return "keys/" + alias + ".key"
}

// ListKeys retrieves all master key aliases from the backend by listing
// all keys with the "keys/" prefix. It strips the prefix and suffix to
// return just the aliases.
func ListKeys(backend Backend) ([]string, error) {
	keys, err := backend.List("keys/")
	if err != nil {
		return nil, err
	}

	aliases := make([]string, 0, len(keys))
	for _, k := range keys {
		alias := strings.TrimPrefix(k, "keys/")
		alias = strings.TrimSuffix(alias, ".key")
		if alias != "" {
			aliases = append(aliases, alias)
		}
	}
	return aliases, nil
}
