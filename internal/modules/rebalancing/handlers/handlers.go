// Package handlers provides HTTP handlers for rebalance runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/taxoracle/internal/domain"
	"github.com/aristath/taxoracle/internal/modules/bundle"
	"github.com/aristath/taxoracle/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// maxBundleBytes bounds request bodies.
const maxBundleBytes = 64 << 20

// Runner executes one request bundle.
type Runner interface {
	Run(ctx context.Context, req bundle.Request) (domain.Output, error)
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	runner Runner
	log    zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(runner Runner, log zerolog.Logger) *Handler {
	return &Handler{
		runner: runner,
		log:    log.With().Str("handler", "rebalancing").Logger(),
	}
}

// ValidationResponse reports every problem found in a bundle.
type ValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// HandleRebalance handles POST /api/rebalance
// The body is a request bundle in JSON or msgpack, chosen by Content-Type.
// The output is encoded per the Accept header.
func (h *Handler) HandleRebalance(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	out, err := h.runner.Run(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, rebalancing.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Msg("Rebalance run cancelled")
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		h.log.Error().Err(err).Msg("Rebalance run failed")
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	format := bundle.FormatFromContentType(r.Header.Get("Accept"))
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := bundle.Encode(w, format, out); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode rebalance output")
	}
}

// HandleValidate handles POST /api/rebalance/validate
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp := ValidationResponse{Valid: true}
	if err := req.Validate(); err != nil {
		resp.Valid = false
		resp.Errors = flatten(err)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (bundle.Request, bool) {
	var req bundle.Request
	body := http.MaxBytesReader(w, r.Body, maxBundleBytes)
	if err := bundle.Decode(body, bundle.FormatFromContentType(r.Header.Get("Content-Type")), &req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		h.writeError(w, http.StatusBadRequest, err)
		return bundle.Request{}, false
	}
	return req, true
}

func flatten(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
