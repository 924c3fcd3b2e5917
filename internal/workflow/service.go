// Package workflow enforces the queue/transition invariants on top of the
// store and publishes change notifications on the bus. All mutations flow
// through here; invariant violations are returned to the caller, never
// silently coerced.
package workflow

import (
	"encoding/json"
	"strings"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/fault"
	"github.com/heathdorn/overseer/internal/store"
)

// Service is the workflow model's mutation surface.
type Service struct {
	store *store.Store
	bus   *bus.Bus
}

// New creates a workflow service.
func New(s *store.Store, b *bus.Bus) *Service {
	return &Service{store: s, bus: b}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *store.Store { return s.store }

// CreateProject creates a project with no queues; callers follow up with
// CreateQueue calls to lay out the board.
func (s *Service) CreateProject(name, systemPrompt string, mode store.SessionMode) (*store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fault.Validation("project name is required")
	}
	switch mode {
	case "", store.SessionPerTask, store.SessionAgentPool, store.SessionAnyFree:
	default:
		return nil, fault.Validation("unknown session mode %q", mode)
	}
	return s.store.CreateProject(name, systemPrompt, mode)
}

// DeleteProject removes a project and everything under it.
func (s *Service) DeleteProject(id string) error {
	return s.store.DeleteProject(id)
}

// CreateQueue adds a queue to a project. Position defaults to end-of-list.
func (s *Service) CreateQueue(projectID, name string, owner store.OwnerType, description string, position *int) (*store.Queue, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fault.Validation("queue name is required")
	}
	switch owner {
	case "", store.OwnerHuman, store.OwnerAssistant:
	default:
		return nil, fault.Validation("unknown owner type %q", owner)
	}
	q, err := s.store.CreateQueue(projectID, strings.TrimSpace(name), owner, description, position)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.QueueCreated, projectID, q)
	return q, nil
}

// DeleteQueue removes a queue unless it still holds tasks or is the
// project's last queue.
func (s *Service) DeleteQueue(id string) error {
	q, err := s.store.GetQueue(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteQueue(id); err != nil {
		return err
	}
	s.bus.Publish(bus.QueueDeleted, q.ProjectID, q)
	return nil
}

// ReorderQueues atomically rewrites queue positions for a project.
func (s *Service) ReorderQueues(projectID string, positions []store.QueuePosition) error {
	if len(positions) == 0 {
		return fault.Validation("no queue positions given")
	}
	if err := s.store.ReorderQueues(projectID, positions); err != nil {
		return err
	}
	s.bus.Publish(bus.QueuesReordered, projectID, positions)
	return nil
}

// CreateTransition adds an edge between two queues. The condition document
// is validated up front so a malformed predicate fails at creation time,
// not on first use. No cycle check is performed: looping workflows are
// intentional.
func (s *Service) CreateTransition(fromQueueID, toQueueID string, actor store.ActorType, conditions json.RawMessage, autoTrigger bool) (*store.Transition, error) {
	switch actor {
	case "", store.ActorTypeHuman, store.ActorTypeAssistant, store.ActorTypeBoth:
	default:
		return nil, fault.Validation("unknown actor type %q", actor)
	}
	if _, err := ParseConditions(conditions); err != nil {
		return nil, err
	}
	tr, err := s.store.CreateTransition(fromQueueID, toQueueID, actor, conditions, autoTrigger)
	if err != nil {
		return nil, err
	}
	from, err := s.store.GetQueue(fromQueueID)
	if err == nil {
		s.bus.Publish(bus.TransitionCreated, from.ProjectID, tr)
	}
	return tr, nil
}

// DeleteTransition removes an edge.
func (s *Service) DeleteTransition(id string) error {
	tr, err := s.store.GetTransition(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransition(id); err != nil {
		return err
	}
	projectID := ""
	if from, err := s.store.GetQueue(tr.FromQueueID); err == nil {
		projectID = from.ProjectID
	}
	s.bus.Publish(bus.TransitionDeleted, projectID, tr)
	return nil
}

// CreateTask creates a task in the given queue and publishes task:created.
func (s *Service) CreateTask(projectID, queueID, title, description string, priority int) (*store.Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fault.Validation("task title is required")
	}
	if queueID == "" {
		return nil, fault.Validation("queue id is required")
	}
	t, err := s.store.CreateTask(projectID, queueID, strings.TrimSpace(title), description, priority)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.TaskCreated, projectID, t)
	return t, nil
}

// ApplyTransition moves a task along a transition on behalf of an actor.
// The structural check (source queue), the actor gate, and the condition
// gate all run inside the store transaction; success publishes
// task:updated.
func (s *Service) ApplyTransition(taskID, transitionID string, actor store.Actor) (*store.Task, error) {
	moved, err := s.store.ApplyTransition(taskID, transitionID, func(t *store.Task, tr *store.Transition) error {
		if !tr.ActorType.Permits(actor) {
			return fault.Conflict("transition %s does not permit a %s", tr.ID, describeActor(actor))
		}
		cond, err := ParseConditions(tr.Conditions)
		if err != nil {
			return err
		}
		return cond.Check(t)
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.TaskUpdated, moved.ProjectID, moved)
	return moved, nil
}

// RecordTaskError marks a task's dispatch failure and publishes the update.
func (s *Service) RecordTaskError(taskID, message string) error {
	if err := s.store.SetTaskError(taskID, message); err != nil {
		return err
	}
	if t, err := s.store.GetTask(taskID); err == nil {
		s.bus.Publish(bus.TaskUpdated, t.ProjectID, t)
	}
	return nil
}
