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
	"net/http"

	"github.com/jeremyhahn/go-encstore/pkg/health"
)

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health/live requests.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	result := s.health.Live(r.Context())
	s.writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, probeStatus(result.Status))
}

// ReadinessHandler handles GET /health/ready requests. The crypto check
// seals and opens a probe value, so a provider outage makes the service
// unready.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	results := s.health.Ready(r.Context())
	overall := health.AggregateStatus(results)

	resp := HealthCheckResponse{Status: overall, Checks: results}
	switch overall {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
	}
	s.writeJSON(w, resp, probeStatus(overall))
}

// StartupHandler handles GET /health/startup requests.
func (s *Server) StartupHandler(w http.ResponseWriter, r *http.Request) {
	result := s.health.Startup(r.Context())
	s.writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, probeStatus(result.Status))
}

// probeStatus serves degraded as 200; only unhealthy fails the probe.
func probeStatus(st health.Status) int {
	if st == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
