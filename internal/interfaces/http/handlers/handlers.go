package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/fusionrun/internal/engine"
	"github.com/sawpanic/fusionrun/internal/fusion"
	httpContracts "github.com/sawpanic/fusionrun/internal/http"
)

// Engine is the read-only view of the engine the handlers serve.
type Engine interface {
	Status() engine.Status
	PortfolioSnapshot() engine.Snapshot
	EvaluateOnce(ctx context.Context, instrument string) (fusion.Signal, error)
}

type ctxKey string

// RequestIDKey is the context key holding the request ID.
const RequestIDKey ctxKey = "request_id"

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	engine  Engine
	started time.Time
	now     func() time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(e Engine) *Handlers {
	return &Handlers{engine: e, started: time.Now(), now: time.Now}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(RequestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	errorResp := httpContracts.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: h.now().UTC(),
	}

	h.writeJSON(w, status, errorResp)
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// MethodNotAllowed handles 405 responses
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
		"Only GET requests are served")
}
