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

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/store"
	"github.com/jeremyhahn/go-encstore/pkg/types"
)

var (
	// ErrInternalError is reported after a recovered panic.
	ErrInternalError = errors.New("internal server error")

	// ErrValueTooLarge is reported when a PUT body exceeds the limit.
	ErrValueTooLarge = errors.New("value too large")

	// ErrMissingName is reported when a route has no entry name.
	ErrMissingName = errors.New("entry name is required")
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeProviderUnavailable  = "provider_unavailable"
	CodeNotFound             = "not_found"
	CodeInvalidConfiguration = "invalid_configuration"
	CodeBadRequest           = "bad_request"
	CodeTimeout              = "timeout"
	CodeInternal             = "internal_error"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// statusFor maps an error from the store to an HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrValueTooLarge):
		return http.StatusRequestEntityTooLarge, CodeBadRequest
	case errors.Is(err, ErrMissingName):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	}

	switch types.KindOf(err) {
	case types.KindAuthentication:
		return http.StatusUnprocessableEntity, CodeAuthenticationFailed
	case types.KindProviderFault:
		return http.StatusServiceUnavailable, CodeProviderUnavailable
	case types.KindInvalidConfiguration:
		return http.StatusBadRequest, CodeInvalidConfiguration
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeError writes err with the status it maps to. Authentication
// failures carry a fixed message so ciphertext details are not echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if code == CodeAuthenticationFailed {
		resp.Error = "stored value failed authentication"
		resp.Message = "the entry was modified, moved or sealed under a different key"
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err))
	}
	s.writeJSON(w, resp, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", logging.Error(err))
	}
}
