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

// Package rest exposes an encrypted store over HTTP.
//
// # API Endpoints
//
// Entries (values are raw request and response bodies):
//   - PUT    /api/v1/entries/{name} - Encrypt and store the body under name
//   - GET    /api/v1/entries/{name} - Return the decrypted value
//   - HEAD   /api/v1/entries/{name} - 200 if the entry exists, 404 otherwise
//   - DELETE /api/v1/entries/{name} - Remove the entry
//   - GET    /api/v1/entries        - Count stored entries
//   - DELETE /api/v1/entries        - Remove every entry
//   - GET    /api/v1/watch/{name}   - Server-sent events with each value of name
//   - GET    /api/v1/hash/{name}    - Storage identifier derived from name
//   - GET    /api/v1/info           - Provider, key alias and version
//
// Health and metrics:
//   - GET /health/live, /health/ready, /health/startup
//   - GET /metrics
//
// # Errors
//
// Errors are JSON objects with an error code. A stored value that fails
// authentication is reported as 422 authentication_failed, distinct from
// 503 provider_unavailable for transient key-management faults that
// outlasted the retry policy.
package rest
