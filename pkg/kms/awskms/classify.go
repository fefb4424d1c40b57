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

//go:build awskms

package awskms

import (
	"context"
	"errors"
	"net"

	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"

	"github.com/jeremyhahn/go-encstore/pkg/types"
)

var throttlingCodes = map[string]bool{
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"RequestThrottled":                       true,
	"LimitExceededException":                 true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalFailure":                        true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"EC2ThrottledException":                  true,
	"ProvisionedThroughputExceededException": true,
}

// classify maps KMS errors onto the error kinds. IncorrectKey and
// InvalidCiphertext mean the ciphertext does not open under the key and
// context: authentication failures. Service and network trouble is a
// provider fault. Everything else stays unclassified.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if types.KindOf(err) != types.KindUnknown {
		return err
	}

	var (
		invalidCiphertext *kmstypes.InvalidCiphertextException
		incorrectKey      *kmstypes.IncorrectKeyException
		internal          *kmstypes.KMSInternalException
		dependency        *kmstypes.DependencyTimeoutException
		unavailable       *kmstypes.KeyUnavailableException
		limit             *kmstypes.LimitExceededException
		disabled          *kmstypes.DisabledException
		invalidState      *kmstypes.KMSInvalidStateException
		notFound          *kmstypes.NotFoundException
	)
	switch {
	case errors.As(err, &invalidCiphertext), errors.As(err, &incorrectKey):
		return types.AuthenticationFailure(op, err)
	case errors.As(err, &internal), errors.As(err, &dependency),
		errors.As(err, &unavailable), errors.As(err, &limit):
		return types.ProviderFault(op, err)
	case errors.As(err, &disabled), errors.As(err, &invalidState),
		errors.As(err, &notFound), errors.Is(err, ErrUnsuitableKey):
		return types.New(types.KindInvalidConfiguration, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if throttlingCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return types.ProviderFault(op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.ProviderFault(op, err)
	}
	return err
}
