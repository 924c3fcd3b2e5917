// Package server exposes the workflow model, the executor, and the event
// stream over HTTP.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/executor"
	"github.com/heathdorn/overseer/internal/fault"
	"github.com/heathdorn/overseer/internal/workflow"
)

// Config tunes the HTTP layer.
type Config struct {
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	Logger    *log.Logger
}

// Server routes HTTP requests to the workflow service and the executor.
type Server struct {
	svc       *workflow.Service
	exec      *executor.Executor
	bus       *bus.Bus
	validate  *validator.Validate
	log       *log.Logger
	heartbeat time.Duration
}

// New creates the server.
func New(svc *workflow.Service, exec *executor.Executor, b *bus.Bus, cfg Config) *Server {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[http] ", log.LstdFlags)
	}
	return &Server{
		svc:       svc,
		exec:      exec,
		bus:       b,
		validate:  validator.New(),
		log:       cfg.Logger,
		heartbeat: cfg.Heartbeat,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)

	mux.HandleFunc("POST /api/projects/{id}/queues", s.handleCreateQueue)
	mux.HandleFunc("GET /api/projects/{id}/queues", s.handleListQueues)
	mux.HandleFunc("PUT /api/projects/{id}/queues/order", s.handleReorderQueues)
	mux.HandleFunc("DELETE /api/queues/{id}", s.handleDeleteQueue)

	mux.HandleFunc("POST /api/transitions", s.handleCreateTransition)
	mux.HandleFunc("GET /api/projects/{id}/transitions", s.handleListTransitions)
	mux.HandleFunc("DELETE /api/transitions/{id}", s.handleDeleteTransition)

	mux.HandleFunc("POST /api/projects/{id}/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/projects/{id}/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /api/tasks/{id}/events", s.handleTaskEvents)
	mux.HandleFunc("POST /api/tasks/{id}/move", s.handleMoveTask)

	mux.HandleFunc("POST /api/executor/start", s.handleExecutorStart)
	mux.HandleFunc("POST /api/executor/stop", s.handleExecutorStop)
	mux.HandleFunc("GET /api/executor/status", s.handleExecutorStatus)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode unmarshals and validates a request body.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fault.Validation("malformed request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fault.Validation("invalid request: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, fault.HTTPStatus(err), map[string]string{"error": err.Error()})
}
