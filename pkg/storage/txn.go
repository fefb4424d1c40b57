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
	"sort"
	"strings"
)

// Reader is the read side of a backend, used as the base of a StagedTxn.
type Reader interface {
	Get(key string) ([]byte, error)
	List(prefix string) ([]string, error)
}

// Op is a single staged write. Delete is true for removals.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// StagedTxn buffers writes over a Reader so backends without native
// transactions can offer Update. The caller must hold whatever lock makes
// the base stable for the lifetime of the transaction, then apply Ops on
// success.
type StagedTxn struct {
	base   Reader
	writes map[string]int
	ops    []Op
	done   bool
}

// NewStagedTxn returns a transaction staged over base.
func NewStagedTxn(base Reader) *StagedTxn {
	return &StagedTxn{base: base, writes: make(map[string]int)}
}

// Get returns the staged value for key, falling back to the base.
func (t *StagedTxn) Get(key string) ([]byte, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if i, ok := t.writes[key]; ok {
		op := t.ops[i]
		if op.Delete {
			return nil, ErrNotFound
		}
		return append([]byte(nil), op.Value...), nil
	}
	return t.base.Get(key)
}

// Put stages a write of value under key.
func (t *StagedTxn) Put(key string, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	if key == "" {
		return ErrInvalidKey
	}
	t.stage(Op{Key: key, Value: append([]byte{}, value...)})
	return nil
}

// Delete stages removal of key. Returns ErrNotFound if key is absent in
// the transaction's view.
func (t *StagedTxn) Delete(key string) error {
	if t.done {
		return ErrTxDone
	}
	if _, err := t.Get(key); err != nil {
		return err
	}
	t.stage(Op{Key: key, Delete: true})
	return nil
}

// List merges the base listing with staged writes.
func (t *StagedTxn) List(prefix string) ([]string, error) {
	if t.done {
		return nil, ErrTxDone
	}
	base, err := t.base.List(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(base))
	for _, k := range base {
		seen[k] = true
	}
	for _, op := range t.ops {
		if !strings.HasPrefix(op.Key, prefix) {
			continue
		}
		seen[op.Key] = !op.Delete
	}
	keys := make([]string, 0, len(seen))
	for k, present := range seen {
		if present {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ops returns the final write per key, in the order keys were first
// written.
func (t *StagedTxn) Ops() []Op {
	return t.ops
}

// Finish marks the transaction as done. Later calls fail with ErrTxDone.
func (t *StagedTxn) Finish() {
	t.done = true
}

func (t *StagedTxn) stage(op Op) {
	if i, ok := t.writes[op.Key]; ok {
		t.ops[i] = op
		return
	}
	t.writes[op.Key] = len(t.ops)
	t.ops = append(t.ops, op)
}
