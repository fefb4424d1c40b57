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

// Package codec converts typed values to and from the string form that
// the encrypted store seals. Floating point values are stored as their
// raw IEEE-754 bits so every value, including NaN payloads and negative
// zero, round trips exactly.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrMalformed is returned by Decode when the input is not a valid
// encoding for the codec's type.
var ErrMalformed = errors.New("codec: malformed value")

// ErrNoCodec is returned by For when no default codec exists for a type.
var ErrNoCodec = errors.New("codec: no default codec for type")

// Codec encodes values of type T as strings and back.
type Codec[T any] interface {
	Encode(value T) string
	Decode(s string) (T, error)
}

// Func builds a Codec from a pair of functions.
type Func[T any] struct {
	EncodeFunc func(T) string
	DecodeFunc func(string) (T, error)
}

// Encode implements Codec.
func (f Func[T]) Encode(value T) string { return f.EncodeFunc(value) }

// Decode implements Codec.
func (f Func[T]) Decode(s string) (T, error) { return f.DecodeFunc(s) }

func malformed(kind, s string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrMalformed, kind, s, err)
	}
	return fmt.Errorf("%w: %s %q", ErrMalformed, kind, s)
}

var (
	// String stores strings unchanged.
	String Codec[string] = Func[string]{
		EncodeFunc: func(v string) string { return v },
		DecodeFunc: func(s string) (string, error) { return s, nil },
	}

	// Int stores ints in base 10.
	Int Codec[int] = Func[int]{
		EncodeFunc: strconv.Itoa,
		DecodeFunc: func(s string) (int, error) {
			v, err := strconv.Atoi(s)
			if err != nil {
				return 0, malformed("int", s, err)
			}
			return v, nil
		},
	}

	// Int64 stores int64s in base 10.
	Int64 Codec[int64] = Func[int64]{
		EncodeFunc: func(v int64) string { return strconv.FormatInt(v, 10) },
		DecodeFunc: func(s string) (int64, error) {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0, malformed("int64", s, err)
			}
			return v, nil
		},
	}

	// Bool accepts exactly "true" and "false".
	Bool Codec[bool] = Func[bool]{
		EncodeFunc: strconv.FormatBool,
		DecodeFunc: func(s string) (bool, error) {
			switch s {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
			return false, malformed("bool", s, nil)
		},
	}

	// Float64 stores the raw bits of a float64 as a signed decimal int64.
	Float64 Codec[float64] = Func[float64]{
		EncodeFunc: func(v float64) string { return strconv.FormatInt(int64(math.Float64bits(v)), 10) },
		DecodeFunc: func(s string) (float64, error) {
			bits, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0, malformed("float64", s, err)
			}
			return math.Float64frombits(uint64(bits)), nil
		},
	}

	// Float32 stores the raw bits of a float32 as a signed decimal int32.
	Float32 Codec[float32] = Func[float32]{
		EncodeFunc: func(v float32) string { return strconv.FormatInt(int64(int32(math.Float32bits(v))), 10) },
		DecodeFunc: func(s string) (float32, error) {
			bits, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return 0, malformed("float32", s, err)
			}
			return math.Float32frombits(uint32(int32(bits))), nil
		},
	}

	// Bytes stores byte slices as padded standard base64.
	Bytes Codec[[]byte] = Func[[]byte]{
		EncodeFunc: base64.StdEncoding.EncodeToString,
		DecodeFunc: func(s string) ([]byte, error) {
			v, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, malformed("bytes", s, err)
			}
			return v, nil
		},
	}
)

// For returns the default codec for T: string, int, int64, bool, float64,
// float32 or []byte.
func For[T any]() (Codec[T], error) {
	var zero T
	var c any
	switch any(zero).(type) {
	case string:
		c = String
	case int:
		c = Int
	case int64:
		c = Int64
	case bool:
		c = Bool
	case float64:
		c = Float64
	case float32:
		c = Float32
	case []byte:
		c = Bytes
	default:
		return nil, fmt.Errorf("%w %T; provide one explicitly", ErrNoCodec, zero)
	}
	return c.(Codec[T]), nil
}
