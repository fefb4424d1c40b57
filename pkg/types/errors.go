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

// Package types defines the error taxonomy shared by the crypto pipeline,
// the key-management providers and the storage layer. Failures are
// classified by Kind so that callers (most importantly the retry policy)
// never have to inspect provider-specific error types.
package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is any failure that has not been positively classified.
	// Unknown failures are fatal and never retried.
	KindUnknown Kind = iota

	// KindInvalidConfiguration is a caller or operator error detected
	// before any cryptographic work is attempted.
	KindInvalidConfiguration

	// KindAuthentication is an AEAD integrity failure: wrong key, wrong
	// associated data, a corrupted or truncated ciphertext, or a
	// ciphertext produced for a different entry. Never retried.
	KindAuthentication

	// KindProviderFault is a transient failure of the key-management
	// provider. Retryable.
	KindProviderFault

	// KindInternal signals a broken internal invariant.
	KindInternal
)

var (
	// ErrInvalidConfiguration matches any error of KindInvalidConfiguration.
	ErrInvalidConfiguration = errors.New("encstore: invalid configuration")

	// ErrAuthenticationFailed matches any error of KindAuthentication.
	ErrAuthenticationFailed = errors.New("encstore: authentication failed")

	// ErrProviderFault matches any error of KindProviderFault.
	ErrProviderFault = errors.New("encstore: provider fault")

	// ErrInternalInvariant matches any error of KindInternal.
	ErrInternalInvariant = errors.New("encstore: internal invariant violation")
)

// String returns the snake_case name of the kind, suitable for metric labels.
func (k Kind) String() string {
	switch k {
	case KindInvalidConfiguration:
		return "invalid_configuration"
	case KindAuthentication:
		return "authentication_failure"
	case KindProviderFault:
		return "provider_fault"
	case KindInternal:
		return "internal_invariant"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidConfiguration:
		return ErrInvalidConfiguration
	case KindAuthentication:
		return ErrAuthenticationFailed
	case KindProviderFault:
		return ErrProviderFault
	case KindInternal:
		return ErrInternalInvariant
	default:
		return nil
	}
}

// Error is a classified failure. Op names the operation that failed
// (for example "aead.open" or "awskms.encrypt") and Err is the
// underlying cause, which may be nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind, so
// errors.Is(err, ErrAuthenticationFailed) works through any wrapping.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New returns a classified error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// InvalidConfiguration returns a KindInvalidConfiguration error with a
// formatted message.
func InvalidConfiguration(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// AuthenticationFailure wraps err as a KindAuthentication error.
func AuthenticationFailure(op string, err error) error {
	return &Error{Kind: KindAuthentication, Op: op, Err: err}
}

// ProviderFault wraps err as a KindProviderFault error.
func ProviderFault(op string, err error) error {
	return &Error{Kind: KindProviderFault, Op: op, Err: err}
}

// Internal returns a KindInternal error with a formatted message.
func Internal(op, format string, args ...any) error {
	return &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's
// chain, or KindUnknown when none is present.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAuthentication reports whether err is an AEAD integrity failure.
func IsAuthentication(err error) bool {
	return KindOf(err) == KindAuthentication
}

// IsRetryable reports whether err is a transient provider fault.
func IsRetryable(err error) bool {
	return KindOf(err) == KindProviderFault
}
