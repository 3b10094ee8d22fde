package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/graph"
	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// DefaultAllowedOrigins are the browser origins permitted by CORS when none
// are configured.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:3001",
}

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except the health and ping routes)
// must include a valid Authorization: Bearer <token> header.
func (s *PipelineServer) NewHTTPHandler(authToken string, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Validator service.
	mux.HandleFunc("GET /{$}", s.handlePing)
	mux.HandleFunc("GET /health", s.handleServiceHealth)
	mux.HandleFunc("POST "+gateway.ParsePath, s.handleParse)

	// Pipeline sessions.
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/catalog", s.handleCatalog)
	mux.HandleFunc("POST /v1/pipelines", s.handleCreatePipeline)
	mux.HandleFunc("GET /v1/pipelines", s.handleListPipelines)
	mux.HandleFunc("GET /v1/pipelines/{id}", s.handleGetPipeline)
	mux.HandleFunc("PATCH /v1/pipelines/{id}", s.handleRenamePipeline)
	mux.HandleFunc("DELETE /v1/pipelines/{id}", s.handleDeletePipeline)
	mux.HandleFunc("POST /v1/pipelines/{id}/nodes", s.handleAddNode)
	mux.HandleFunc("GET /v1/pipelines/{id}/nodes/{node}", s.handleGetNode)
	mux.HandleFunc("DELETE /v1/pipelines/{id}/nodes/{node}", s.handleRemoveNode)
	mux.HandleFunc("PATCH /v1/pipelines/{id}/nodes/{node}/data", s.handleUpdateNodeField)
	mux.HandleFunc("POST /v1/pipelines/{id}/edges", s.handleAddEdge)
	mux.HandleFunc("DELETE /v1/pipelines/{id}/edges/{edge}", s.handleRemoveEdge)
	mux.HandleFunc("GET /v1/pipelines/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /v1/pipelines/{id}/validate", s.handleValidatePipeline)
	mux.HandleFunc("GET /v1/pipelines/{id}/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/pipelines/{id}/events", s.handleGetEvents)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)

	return CORSMiddleware(allowedOrigins, AccessLogMiddleware(s.logger, RecoveryMiddleware(s.logger, AuthMiddleware(authToken, mux))))
}

// handleHealth handles GET /v1/health.
func (s *PipelineServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a service-layer error onto an HTTP response.
// entity names the record for not-found messages.
func writeServiceError(w http.ResponseWriter, err error, entity string) {
	var (
		ie inputError
		ve *model.ValidationError
	)
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "fields": ve.Errors})
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, entity+" not found")
	case errors.Is(err, graph.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, graph.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, graph.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, gateway.ErrorMessage(err))
	case errors.Is(err, gateway.ErrServerError),
		errors.Is(err, gateway.ErrMalformedResponse),
		errors.Is(err, gateway.ErrUnavailable):
		writeError(w, http.StatusBadGateway, gateway.ErrorMessage(err))
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// actorFrom returns the acting user for a request: the X-Actor header, or
// the fallback taken from the body.
func actorFrom(r *http.Request, fallback string) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return fallback
}
