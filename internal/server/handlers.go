package server

import (
	"encoding/json"
	"net/http"

	"github.com/heathdorn/overseer/internal/store"
)

type createProjectRequest struct {
	Name         string `json:"name" validate:"required"`
	SystemPrompt string `json:"system_prompt"`
	SessionMode  string `json:"session_mode" validate:"omitempty,oneof=per-task agent-pool any-free"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode := store.SessionMode(req.SessionMode)
	if mode == "" {
		mode = store.SessionPerTask
	}
	p, err := s.svc.CreateProject(req.Name, req.SystemPrompt, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := s.svc.Store().ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Store().GetProject(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteProject(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createQueueRequest struct {
	Name        string `json:"name" validate:"required"`
	OwnerType   string `json:"owner_type" validate:"required,oneof=human assistant"`
	Description string `json:"description"`
	Position    *int   `json:"position"`
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	q, err := s.svc.CreateQueue(r.PathValue("id"), req.Name, store.OwnerType(req.OwnerType), req.Description, req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := s.svc.Store().ListQueues(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

type reorderQueuesRequest struct {
	Positions []store.QueuePosition `json:"positions" validate:"required,min=1,dive"`
}

func (s *Server) handleReorderQueues(w http.ResponseWriter, r *http.Request) {
	var req reorderQueuesRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.ReorderQueues(r.PathValue("id"), req.Positions); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteQueue(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createTransitionRequest struct {
	FromQueueID string          `json:"from_queue_id" validate:"required"`
	ToQueueID   string          `json:"to_queue_id" validate:"required"`
	ActorType   string          `json:"actor_type" validate:"required,oneof=human assistant both"`
	Conditions  json.RawMessage `json:"conditions"`
	AutoTrigger bool            `json:"auto_trigger"`
}

func (s *Server) handleCreateTransition(w http.ResponseWriter, r *http.Request) {
	var req createTransitionRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tr, err := s.svc.CreateTransition(req.FromQueueID, req.ToQueueID, store.ActorType(req.ActorType), req.Conditions, req.AutoTrigger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	transitions, err := s.svc.Store().ListTransitions(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

func (s *Server) handleDeleteTransition(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTransition(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createTaskRequest struct {
	QueueID     string `json:"queue_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.svc.CreateTask(r.PathValue("id"), req.QueueID, req.Title, req.Description, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.Store().ListTasks(r.PathValue("id"), r.URL.Query().Get("queue"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.Store().GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := s.svc.Store().GetTask(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	events, err := s.svc.Store().GetTaskEvents(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type moveTaskRequest struct {
	TransitionID string `json:"transition_id" validate:"required"`
	Actor        string `json:"actor" validate:"omitempty,oneof=human assistant"`
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req moveTaskRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actor := store.Actor(req.Actor)
	if actor == "" {
		actor = store.ActorHuman
	}
	task, err := s.svc.ApplyTransition(r.PathValue("id"), req.TransitionID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type executorStartRequest struct {
	ProjectID    string `json:"project_id" validate:"required"`
	GatewayURL   string `json:"gateway_url"`
	GatewayToken string `json:"gateway_token"`
}

func (s *Server) handleExecutorStart(w http.ResponseWriter, r *http.Request) {
	var req executorStartRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.GatewayURL != "" || req.GatewayToken != "" {
		s.exec.ConfigureGateway(req.GatewayURL, req.GatewayToken)
	}
	if err := s.exec.Start(req.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.exec.Status())
}

func (s *Server) handleExecutorStop(w http.ResponseWriter, _ *http.Request) {
	s.exec.Stop()
	writeJSON(w, http.StatusOK, s.exec.Status())
}

func (s *Server) handleExecutorStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.exec.Status())
}
