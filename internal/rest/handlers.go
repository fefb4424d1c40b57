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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-encstore/pkg/logging"
)

// InfoResponse describes the running store.
type InfoResponse struct {
	Provider string `json:"provider"`
	KeyAlias string `json:"key_alias"`
	Version  string `json:"version"`
}

// HashResponse is returned by GET /api/v1/hash/{name}.
type HashResponse struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// CountResponse is returned by GET /api/v1/entries.
type CountResponse struct {
	Count int `json:"count"`
}

// WatchEvent is the data of one server-sent event from the watch route.
type WatchEvent struct {
	Present bool   `json:"present"`
	Value   string `json:"value,omitempty"` // base64
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// entryName returns the unescaped name captured by a wildcard route.
func entryName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		var err error
		if name, err = url.PathUnescape(name); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMissingName, err)
		}
	}
	if name == "" {
		return "", ErrMissingName
	}
	return name, nil
}

// InfoHandler handles GET /api/v1/info.
func (s *Server) InfoHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, InfoResponse{
		Provider: s.crypto.Provider(),
		KeyAlias: s.crypto.KeyAlias(),
		Version:  s.version,
	}, http.StatusOK)
}

// HashHandler handles GET /api/v1/hash/{name}.
func (s *Server) HashHandler(w http.ResponseWriter, r *http.Request) {
	name, err := entryName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, HashResponse{Name: name, ID: s.crypto.Hash(name).String()}, http.StatusOK)
}

// PutHandler handles PUT /api/v1/entries/{name}. The request body is the
// value.
func (s *Server) PutHandler(w http.ResponseWriter, r *http.Request) {
	name, err := entryName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxValue))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: limit is %d bytes", ErrValueTooLarge, tooLarge.Limit)
		}
		s.writeError(w, r, err)
		return
	}

	if err := s.store.Put(r.Context(), name, value); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHandler handles GET /api/v1/entries/{name}.
func (s *Server) GetHandler(w http.ResponseWriter, r *http.Request) {
	name, err := entryName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := s.store.Get(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

// HeadHandler handles HEAD /api/v1/entries/{name}. It answers 200 or
// 404 without decrypting.
func (s *Server) HeadHandler(w http.ResponseWriter, r *http.Request) {
	name, err := entryName(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := s.store.Contains(r.Context(), name)
	switch {
	case err != nil:
		status, _ := statusFor(err)
		w.WriteHeader(status)
	case ok:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// DeleteHandler handles DELETE /api/v1/entries/{name}. Removing a
// missing entry succeeds.
func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	name, err := entryName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Remove(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CountHandler handles GET /api/v1/entries.
func (s *Server) CountHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, CountResponse{Count: n}, http.StatusOK)
}

// ClearHandler handles DELETE /api/v1/entries.
func (s *Server) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "store cleared")
	w.WriteHeader(http.StatusNoContent)
}

// WatchHandler handles GET /api/v1/watch/{name} as a server-sent event
// stream. The first event is the current value; each later event follows
// a change. The stream ends when the client disconnects.
func (s *Server) WatchHandler(w http.ResponseWriter, r *http.Request) {
	name, err := entryName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	results, err := s.store.Watch(ctx, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for res := range results {
		ev := WatchEvent{Present: res.Present}
		kind := "value"
		if res.Err != nil {
			_, ev.Code = statusFor(res.Err)
			ev.Error = res.Err.Error()
			kind = "error"
		} else if res.Present {
			ev.Value = base64.StdEncoding.EncodeToString(res.Value)
		}
		data, _ := json.Marshal(ev)
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
			s.logger.DebugContext(ctx, "watch client gone", logging.Error(err))
			return
		}
		if err := rc.Flush(); err != nil {
			s.logger.DebugContext(ctx, "watch flush failed", logging.Error(err))
			return
		}
	}
}
