package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/policy"
	"github.com/gzhole/promptshield/internal/shield"
)

const readyTimeout = 2 * time.Second

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

type policiesResponse struct {
	Status   policy.Status   `json:"status"`
	Policies []policy.Policy `json:"policies"`
}

type reloadResponse struct {
	Reloaded bool          `json:"reloaded"`
	Status   policy.Status `json:"status"`
	Error    string        `json:"error,omitempty"`
}

type readyResponse struct {
	Ready    bool `json:"ready"`
	Cache    bool `json:"cache"`
	Policies bool `json:"policies"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	requestID := getRequestID(r.Context())

	var req shield.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large", RequestID: requestID})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", RequestID: requestID})
		return
	}

	resp := s.shield.EvaluateAndAudit(r.Context(), req, requestID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, policiesResponse{
		Status:   s.policies.Status(),
		Policies: s.policies.Policies(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	err := s.policies.Reload()
	resp := reloadResponse{Reloaded: err == nil, Status: s.policies.Status()}
	if err != nil {
		s.logger.Warn("policy reload via api failed",
			zap.String("request_id", getRequestID(r.Context())), zap.Error(err))
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := readyResponse{Cache: true, Policies: s.policies.IsHealthy()}
	if s.cache != nil {
		resp.Cache = s.cache.HealthCheck(ctx)
	}
	resp.Ready = resp.Cache && resp.Policies

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
