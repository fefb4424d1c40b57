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

package store

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-encstore/pkg/store/codec"
)

// ValueResult is one typed observation delivered by WatchValue.
type ValueResult[T any] struct {
	Value   T
	Present bool
	Err     error
}

// resolve returns c, or the default codec for T when c is nil.
func resolve[T any](c codec.Codec[T]) (codec.Codec[T], error) {
	if c != nil {
		return c, nil
	}
	return codec.For[T]()
}

// PutValue encodes value with c and stores it under name. A nil codec
// selects codec.For[T].
func PutValue[T any](ctx context.Context, s *Store, name string, value T, c codec.Codec[T]) error {
	c, err := resolve(c)
	if err != nil {
		return err
	}
	return s.Put(ctx, name, []byte(c.Encode(value)))
}

// GetValue reads and decodes the value stored under name. It returns
// ErrNotFound when absent and an error wrapping codec.ErrMalformed when
// the plaintext is not a valid encoding for T.
func GetValue[T any](ctx context.Context, s *Store, name string, c codec.Codec[T]) (T, error) {
	var zero T
	c, err := resolve(c)
	if err != nil {
		return zero, err
	}
	raw, err := s.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	v, err := c.Decode(string(raw))
	if err != nil {
		return zero, fmt.Errorf("store: entry does not decode: %w", err)
	}
	return v, nil
}

// WatchValue is Watch with each value decoded by c.
func WatchValue[T any](ctx context.Context, s *Store, name string, c codec.Codec[T]) (<-chan ValueResult[T], error) {
	c, err := resolve(c)
	if err != nil {
		return nil, err
	}
	raw, err := s.Watch(ctx, name)
	if err != nil {
		return nil, err
	}

	out := make(chan ValueResult[T], 1)
	go func() {
		defer close(out)
		for r := range raw {
			vr := ValueResult[T]{Present: r.Present, Err: r.Err}
			if r.Err == nil && r.Present {
				v, err := c.Decode(string(r.Value))
				if err != nil {
					vr.Err = fmt.Errorf("store: entry does not decode: %w", err)
				} else {
					vr.Value = v
				}
			}
			select {
			case out <- vr:
			case <-ctx.Done():
				for range raw {
				}
				return
			}
		}
	}()
	return out, nil
}
