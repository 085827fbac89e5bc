// Package httpapi implements the thin inward adapter: one handler
// converting an HTTP request body into the core's single `analyze`
// operation and serializing the resulting ClinicalReport. The full HTTP
// surface (routing, CORS, auth) stays out of scope; this package is
// deliberately minimal, built on plain net/http handlers.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/clinical-cds/orchestrator/internal/errs"
	"github.com/clinical-cds/orchestrator/internal/geoloc"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// Core is the capability the adapter depends on: *workflow.Orchestrator
// satisfies it without httpapi importing internal/workflow directly,
// keeping the adapter layer decoupled from the orchestration internals.
type Core interface {
	Analyze(ctx context.Context, scenario, countryCode, patientID string) (clinical.ClinicalReport, error)
}

// Handler serves the analyze endpoint.
type Handler struct {
	core     Core
	resolver geoloc.Resolver
	logger   *slog.Logger
}

// NewHandler builds a Handler over core. resolver may be nil, in which
// case a request with no country_code is passed through with an empty
// one and region selection falls back to the INTERNATIONAL profile.
func NewHandler(core Core, resolver geoloc.Resolver) *Handler {
	return &Handler{core: core, resolver: resolver, logger: slog.Default().With("component", "httpapi")}
}

type analyzeRequest struct {
	Scenario    string `json:"scenario"`
	CountryCode string `json:"country_code"`
	PatientID   string `json:"patient_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleAnalyze decodes an analyzeRequest body, resolves country_code via
// the configured geoloc.Resolver when the request omits one, invokes the
// core, and writes the ClinicalReport as JSON. A malformed or incomplete
// request body produces 400; an error returned from the core is mapped
// to its status via errs.StatusCode (503 for ErrConfig, 504 for a
// workflow timeout, 499 for a cancelled request, 500 otherwise).
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Scenario) == "" {
		writeError(w, http.StatusBadRequest, errs.ErrConfig)
		return
	}

	countryCode := req.CountryCode
	if countryCode == "" && h.resolver != nil {
		if loc, err := h.resolver.Resolve(r.Context(), clientIP(r)); err == nil {
			countryCode = loc.CountryCode
		} else {
			h.logger.Warn("geolocation failed", "error", err)
		}
	}

	report, err := h.core.Analyze(r.Context(), req.Scenario, countryCode, req.PatientID)
	if err != nil {
		writeError(w, errs.StatusCode(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Error("encode clinical report failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
