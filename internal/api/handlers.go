// internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/service"
	"github.com/xkilldash9x/totemscrape/internal/store"
)

// maxRequestBody bounds POST /scrape bodies.
const maxRequestBody = 1 << 20

// Endpoint describes one route on the index page.
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// IndexResponse is returned by GET /.
type IndexResponse struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Endpoints []Endpoint `json:"endpoints"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: http.MethodGet, Description: "API information"},
	{Path: "/scrape", Method: http.MethodPost, Description: "Scrape data from PACS system"},
	{Path: "/tasks/{task_id}", Method: http.MethodGet, Description: "Get status of a background task"},
	{Path: "/runs/{run_id}/rows", Method: http.MethodGet, Description: "Get the archived table of a finished run"},
	{Path: "/health", Method: http.MethodGet, Description: "Liveness probe"},
	{Path: "/metrics", Method: http.MethodGet, Description: "Prometheus metrics"},
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, IndexResponse{
		Name:      s.info.Name,
		Version:   s.info.Version,
		Endpoints: endpoints,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req schemas.ScrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := s.tasks.Submit(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrMissingCredentials):
		s.respondWithError(w, http.StatusBadRequest, "Username and password are required")
		return
	case errors.Is(err, service.ErrServiceClosed):
		s.respondWithError(w, http.StatusServiceUnavailable, "Service is shutting down")
		return
	case err != nil:
		s.logger.Error("Failed to submit task.", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to start scraping task")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.Get(r.Context(), taskID)
	if errors.Is(err, service.ErrTaskNotFound) {
		s.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Task %s not found", taskID))
		return
	}
	if err != nil {
		s.logger.Error("Failed to load task.", zap.String("task_id", taskID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to load task")
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetRunRows(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondWithError(w, http.StatusNotFound, "Result archive is not configured")
		return
	}
	runID := chi.URLParam(r, "run_id")
	rows, err := s.archive.GetRows(r.Context(), runID)
	if errors.Is(err, store.ErrRunNotFound) {
		s.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Run %s not found", runID))
		return
	}
	if err != nil {
		s.logger.Error("Failed to load archived run.", zap.String("run_id", runID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to load archived run")
		return
	}
	s.respondJSON(w, http.StatusOK, rows)
}

// respondWithError sends a standardized JSON error response.
func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{Detail: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
