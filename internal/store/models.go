package store

import (
	"encoding/json"
	"time"
)

// SessionMode controls how the executor binds tasks to gateway sessions.
type SessionMode string

const (
	// SessionPerTask opens a fresh session key for every dispatch.
	SessionPerTask SessionMode = "per-task"
	// SessionAgentPool rotates dispatches over a fixed pool of session keys.
	SessionAgentPool SessionMode = "agent-pool"
	// SessionAnyFree reuses a single shared session key for the project.
	SessionAnyFree SessionMode = "any-free"
)

// OwnerType says who works the tasks sitting in a queue.
type OwnerType string

const (
	OwnerHuman     OwnerType = "human"
	OwnerAssistant OwnerType = "assistant"
)

// Actor identifies who is invoking a transition.
type Actor string

const (
	ActorHuman     Actor = "human"
	ActorAssistant Actor = "assistant"
)

// ActorType restricts which actors may invoke a transition.
type ActorType string

const (
	ActorTypeHuman     ActorType = "human"
	ActorTypeAssistant ActorType = "assistant"
	ActorTypeBoth      ActorType = "both"
)

// Permits reports whether the given actor may invoke a transition with
// this actor type.
func (a ActorType) Permits(actor Actor) bool {
	switch a {
	case ActorTypeBoth:
		return true
	case ActorTypeHuman:
		return actor == ActorHuman
	case ActorTypeAssistant:
		return actor == ActorAssistant
	default:
		return false
	}
}

// Project is the top-level container of a workflow.
type Project struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Config         string      `json:"config,omitempty"`
	Pinned         bool        `json:"pinned"`
	SystemPrompt   string      `json:"system_prompt,omitempty"`
	SessionMode    SessionMode `json:"session_mode"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
}

// Queue is a named stage a task can occupy. Position defines display and
// selection order; values are unique per project but need not be contiguous.
type Queue struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	OwnerType   OwnerType `json:"owner_type"`
	Description string    `json:"description,omitempty"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// QueuePosition is one entry in a bulk reorder.
type QueuePosition struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Transition is a permitted edge between two queues. Conditions is an
// optional predicate document; AutoTrigger transitions are applied by the
// executor on task completion without an explicit command. Cycles in the
// transition graph are legal (workflows loop: review -> revise -> review).
type Transition struct {
	ID          string          `json:"id"`
	FromQueueID string          `json:"from_queue_id"`
	ToQueueID   string          `json:"to_queue_id"`
	ActorType   ActorType       `json:"actor_type"`
	Conditions  json.RawMessage `json:"conditions,omitempty"`
	AutoTrigger bool            `json:"auto_trigger"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Task is a unit of work occupying exactly one queue at a time. It moves
// only by applying a transition whose FromQueueID equals its current queue.
type Task struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	QueueID       string     `json:"queue_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Priority      int        `json:"priority"`
	SessionKey    string     `json:"session_key,omitempty"`
	AssignedAgent string     `json:"assigned_agent,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorAt       *time.Time `json:"error_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskEvent is one audit-trail row for a task.
type TaskEvent struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Agent     string    `json:"agent,omitempty"`
	Type      string    `json:"event_type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
