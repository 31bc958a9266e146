// Package api exposes the task service over HTTP with JSON envelopes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
)

const (
	// DefaultAllowedOrigin is the CORS origin allowed when none is configured.
	DefaultAllowedOrigin = "*"

	defaultShutdownTimeout = 10 * time.Second
)

// TaskCreator knows how to register a new task.
type TaskCreator interface {
	Create(ctx context.Context, spec model.TaskSpec) (*model.Task, error)
}

// TaskGetter knows how to retrieve a task by ID.
type TaskGetter interface {
	Get(ctx context.Context, id string) (*model.Task, error)
}

// ServerConfig is the configuration for the HTTP server.
type ServerConfig struct {
	ListenAddress string
	TaskCreator   TaskCreator
	TaskGetter    TaskGetter
	AllowedOrigin string
	Logger        log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.TaskCreator == nil {
		return fmt.Errorf("task creator is required")
	}
	if c.TaskGetter == nil {
		return fmt.Errorf("task getter is required")
	}
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = DefaultAllowedOrigin
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "api.Server"})
	return nil
}

// Server is the HTTP server for the task API.
type Server struct {
	cfg     ServerConfig
	server  *http.Server
	handler http.Handler
	logger  log.Logger
}

// NewServer creates a new HTTP API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", s.createTask)
	mux.HandleFunc("GET /tasks/{id}", s.getTask)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("/", s.notFound)

	s.handler = s.logRequests(s.cors(mux))
	s.server = &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: s.handler,
	}

	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves the API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("HTTP server listening on %s", s.cfg.ListenAddress)
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// response is the JSON envelope every API endpoint answers with.
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details []string    `json:"details,omitempty"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var spec model.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeJSON(w, http.StatusBadRequest, response{Error: "Invalid request body"})
		return
	}

	task, err := s.cfg.TaskCreator.Create(r.Context(), spec)
	if err != nil {
		if errors.Is(err, model.ErrNotValid) {
			s.writeJSON(w, http.StatusBadRequest, response{
				Error:   "Validation error",
				Details: []string{err.Error()},
			})
			return
		}
		s.logger.Errorf("Could not create task: %s", err)
		s.writeJSON(w, http.StatusInternalServerError, response{Error: "Failed to create task"})
		return
	}

	s.writeJSON(w, http.StatusCreated, response{Success: true, Data: task})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.TaskGetter.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, response{Error: "Task not found"})
			return
		}
		s.logger.Errorf("Could not get task: %s", err)
		s.writeJSON(w, http.StatusInternalServerError, response{Error: "Failed to get task"})
		return
	}

	s.writeJSON(w, http.StatusOK, response{Success: true, Data: task})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusNotFound, response{Error: "Not found"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Errorf("Could not encode response: %s", err)
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.WithValues(log.Kv{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debugf("Request handled")
	})
}
