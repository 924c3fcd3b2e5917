// Package store persists the workflow model (projects, queues, transitions,
// tasks) in SQLite. Composite operations that pair an invariant check with a
// mutation (queue deletion, transition application, bulk reorder) run inside
// a single transaction so the check and the write cannot be interleaved with
// a conflicting mutation.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/heathdorn/overseer/internal/fault"
)

// Store provides access to the overseer database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent readers; foreign keys for cascade deletes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		config           TEXT DEFAULT '',
		pinned           INTEGER NOT NULL DEFAULT 0,
		system_prompt    TEXT DEFAULT '',
		session_mode     TEXT NOT NULL DEFAULT 'per-task',
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL,
		last_accessed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS queues (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		owner_type  TEXT NOT NULL DEFAULT 'human',
		description TEXT DEFAULT '',
		position    INTEGER NOT NULL,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id            TEXT PRIMARY KEY,
		from_queue_id TEXT NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
		to_queue_id   TEXT NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
		actor_type    TEXT NOT NULL DEFAULT 'both',
		conditions    TEXT,
		auto_trigger  INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id             TEXT PRIMARY KEY,
		project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		queue_id       TEXT NOT NULL REFERENCES queues(id),
		title          TEXT NOT NULL,
		description    TEXT DEFAULT '',
		priority       INTEGER NOT NULL DEFAULT 0,
		session_key    TEXT DEFAULT '',
		assigned_agent TEXT DEFAULT '',
		error          TEXT DEFAULT '',
		error_at       DATETIME,
		created_at     DATETIME NOT NULL,
		updated_at     DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		agent      TEXT DEFAULT '',
		event_type TEXT NOT NULL,
		content    TEXT DEFAULT '',
		timestamp  DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queues_project ON queues(project_id, position);
	CREATE INDEX IF NOT EXISTS idx_tasks_queue ON tasks(queue_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Projects ---

// CreateProject inserts a new project.
func (s *Store) CreateProject(name, systemPrompt string, mode SessionMode) (*Project, error) {
	if mode == "" {
		mode = SessionPerTask
	}
	now := time.Now().UTC()
	p := &Project{
		ID:             uuid.NewString(),
		Name:           name,
		SystemPrompt:   systemPrompt,
		SessionMode:    mode,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO projects (id, name, config, pinned, system_prompt, session_mode, created_at, updated_at, last_accessed_at)
		 VALUES (?, ?, '', 0, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SystemPrompt, string(p.SessionMode), now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

const projectColumns = `id, name, config, pinned, system_prompt, session_mode, created_at, updated_at, last_accessed_at`

// GetProject returns a project by ID.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Config, &p.Pinned, &p.SystemPrompt,
		&p.SessionMode, &p.CreatedAt, &p.UpdatedAt, &p.LastAccessedAt)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("project %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}

// ListProjects returns all projects, pinned first, then most recently used.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(
		`SELECT ` + projectColumns + ` FROM projects ORDER BY pinned DESC, last_accessed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Config, &p.Pinned, &p.SystemPrompt,
			&p.SessionMode, &p.CreatedAt, &p.UpdatedAt, &p.LastAccessedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// TouchProject bumps the project's last-accessed timestamp.
func (s *Store) TouchProject(id string) error {
	_, err := s.db.Exec(`UPDATE projects SET last_accessed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// SetProjectPinned pins or unpins a project.
func (s *Store) SetProjectPinned(id string, pinned bool) error {
	res, err := s.db.Exec(`UPDATE projects SET pinned = ?, updated_at = ? WHERE id = ?`,
		pinned, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("pin project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound("project %s", id)
	}
	return nil
}

// DeleteProject removes a project. Queues, transitions, tasks and task
// events cascade through foreign keys.
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound("project %s", id)
	}
	return nil
}

// --- Queues ---

const queueColumns = `id, project_id, name, owner_type, description, position, created_at, updated_at`

// CreateQueue inserts a new queue. A nil position appends to the end of the
// project's queue list.
func (s *Store) CreateQueue(projectID, name string, owner OwnerType, description string, position *int) (*Queue, error) {
	if owner == "" {
		owner = OwnerHuman
	}
	now := time.Now().UTC()
	q := &Queue{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		OwnerType:   owner,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.withTx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM projects WHERE id = ?`, projectID).Scan(&exists); err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if exists == 0 {
			return fault.NotFound("project %s", projectID)
		}

		if position != nil {
			q.Position = *position
		} else {
			var max sql.NullInt64
			if err := tx.QueryRow(`SELECT MAX(position) FROM queues WHERE project_id = ?`, projectID).Scan(&max); err != nil {
				return fmt.Errorf("max position: %w", err)
			}
			if max.Valid {
				q.Position = int(max.Int64) + 1
			}
		}

		_, err := tx.Exec(
			`INSERT INTO queues (id, project_id, name, owner_type, description, position, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.ProjectID, q.Name, string(q.OwnerType), q.Description, q.Position, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert queue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// GetQueue returns a queue by ID.
func (s *Store) GetQueue(id string) (*Queue, error) {
	row := s.db.QueryRow(`SELECT `+queueColumns+` FROM queues WHERE id = ?`, id)
	var q Queue
	err := row.Scan(&q.ID, &q.ProjectID, &q.Name, &q.OwnerType,
		&q.Description, &q.Position, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("queue %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	return &q, nil
}

// ListQueues returns a project's queues in position order.
func (s *Store) ListQueues(projectID string) ([]Queue, error) {
	rows, err := s.db.Query(
		`SELECT `+queueColumns+` FROM queues WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query queues: %w", err)
	}
	defer rows.Close()

	var queues []Queue
	for rows.Next() {
		var q Queue
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Name, &q.OwnerType,
			&q.Description, &q.Position, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// DeleteQueue removes a queue. It fails with a conflict if the queue still
// holds tasks or is the project's last remaining queue. Sibling positions
// are untouched. The check and the delete share one transaction.
func (s *Store) DeleteQueue(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		var projectID string
		err := tx.QueryRow(`SELECT project_id FROM queues WHERE id = ?`, id).Scan(&projectID)
		if err == sql.ErrNoRows {
			return fault.NotFound("queue %s", id)
		}
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}

		var queueCount int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM queues WHERE project_id = ?`, projectID).Scan(&queueCount); err != nil {
			return fmt.Errorf("count queues: %w", err)
		}
		if queueCount <= 1 {
			return fault.Conflict("queue %s is the project's last queue", id)
		}

		var taskCount int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM tasks WHERE queue_id = ?`, id).Scan(&taskCount); err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}
		if taskCount > 0 {
			return fault.Conflict("queue %s still holds %d task(s)", id, taskCount)
		}

		if _, err := tx.Exec(`DELETE FROM queues WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete queue: %w", err)
		}
		return nil
	})
}

// ReorderQueues atomically rewrites positions for the given queues. Every
// id must belong to the project or the whole rewrite is rejected.
func (s *Store) ReorderQueues(projectID string, positions []QueuePosition) error {
	return s.withTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, qp := range positions {
			var owner string
			err := tx.QueryRow(`SELECT project_id FROM queues WHERE id = ?`, qp.ID).Scan(&owner)
			if err == sql.ErrNoRows {
				return fault.Validation("queue %s does not exist", qp.ID)
			}
			if err != nil {
				return fmt.Errorf("load queue: %w", err)
			}
			if owner != projectID {
				return fault.Validation("queue %s does not belong to project %s", qp.ID, projectID)
			}
			if _, err := tx.Exec(
				`UPDATE queues SET position = ?, updated_at = ? WHERE id = ?`,
				qp.Position, now, qp.ID,
			); err != nil {
				return fmt.Errorf("update position: %w", err)
			}
		}
		return nil
	})
}

// --- Transitions ---

const transitionColumns = `id, from_queue_id, to_queue_id, actor_type, conditions, auto_trigger, created_at`

// CreateTransition inserts a new edge between two queues of the same
// project. Self-loops and cycles are legal.
func (s *Store) CreateTransition(fromQueueID, toQueueID string, actor ActorType, conditions []byte, autoTrigger bool) (*Transition, error) {
	if actor == "" {
		actor = ActorTypeBoth
	}
	now := time.Now().UTC()
	t := &Transition{
		ID:          uuid.NewString(),
		FromQueueID: fromQueueID,
		ToQueueID:   toQueueID,
		ActorType:   actor,
		Conditions:  conditions,
		AutoTrigger: autoTrigger,
		CreatedAt:   now,
	}

	err := s.withTx(func(tx *sql.Tx) error {
		var fromProject, toProject string
		err := tx.QueryRow(`SELECT project_id FROM queues WHERE id = ?`, fromQueueID).Scan(&fromProject)
		if err == sql.ErrNoRows {
			return fault.Validation("from queue %s does not exist", fromQueueID)
		}
		if err != nil {
			return fmt.Errorf("load from queue: %w", err)
		}
		err = tx.QueryRow(`SELECT project_id FROM queues WHERE id = ?`, toQueueID).Scan(&toProject)
		if err == sql.ErrNoRows {
			return fault.Validation("to queue %s does not exist", toQueueID)
		}
		if err != nil {
			return fmt.Errorf("load to queue: %w", err)
		}
		if fromProject != toProject {
			return fault.Validation("queues %s and %s belong to different projects", fromQueueID, toQueueID)
		}

		var cond any
		if len(conditions) > 0 {
			cond = string(conditions)
		}
		_, err = tx.Exec(
			`INSERT INTO transitions (id, from_queue_id, to_queue_id, actor_type, conditions, auto_trigger, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, fromQueueID, toQueueID, string(actor), cond, autoTrigger, now,
		)
		if err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransition returns a transition by ID.
func (s *Store) GetTransition(id string) (*Transition, error) {
	row := s.db.QueryRow(`SELECT `+transitionColumns+` FROM transitions WHERE id = ?`, id)
	t, err := scanTransition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("transition %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan transition: %w", err)
	}
	return t, nil
}

// ListTransitions returns all transitions of a project, grouped by the
// source queue's position.
func (s *Store) ListTransitions(projectID string) ([]Transition, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.from_queue_id, t.to_queue_id, t.actor_type, t.conditions, t.auto_trigger, t.created_at
		 FROM transitions t JOIN queues q ON t.from_queue_id = q.id
		 WHERE q.project_id = ? ORDER BY q.position, t.created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		t, err := scanTransition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, *t)
	}
	return transitions, rows.Err()
}

// TransitionsFrom returns the transitions leaving a queue, optionally only
// the auto-trigger ones.
func (s *Store) TransitionsFrom(queueID string, autoOnly bool) ([]Transition, error) {
	query := `SELECT ` + transitionColumns + ` FROM transitions WHERE from_queue_id = ?`
	if autoOnly {
		query += ` AND auto_trigger = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, queueID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		t, err := scanTransition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, *t)
	}
	return transitions, rows.Err()
}

// DeleteTransition removes a transition.
func (s *Store) DeleteTransition(id string) error {
	res, err := s.db.Exec(`DELETE FROM transitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound("transition %s", id)
	}
	return nil
}

func scanTransition(scan func(...any) error) (*Transition, error) {
	var t Transition
	var cond sql.NullString
	err := scan(&t.ID, &t.FromQueueID, &t.ToQueueID, &t.ActorType, &cond, &t.AutoTrigger, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if cond.Valid && cond.String != "" {
		t.Conditions = []byte(cond.String)
	}
	return &t, nil
}

// --- Tasks ---

const taskColumns = `id, project_id, queue_id, title, description, priority, session_key, assigned_agent, error, error_at, created_at, updated_at`

// CreateTask inserts a new task into the given queue.
func (s *Store) CreateTask(projectID, queueID, title, description string, priority int) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		QueueID:     queueID,
		Title:       title,
		Description: description,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.withTx(func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRow(`SELECT project_id FROM queues WHERE id = ?`, queueID).Scan(&owner)
		if err == sql.ErrNoRows {
			return fault.Validation("queue %s does not exist", queueID)
		}
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}
		if owner != projectID {
			return fault.Validation("queue %s does not belong to project %s", queueID, projectID)
		}

		_, err = tx.Exec(
			`INSERT INTO tasks (id, project_id, queue_id, title, description, priority, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, projectID, queueID, title, description, priority, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO task_events (task_id, agent, event_type, content, timestamp) VALUES (?, '', 'created', ?, ?)`,
			t.ID, fmt.Sprintf("Task created: %s", title), now,
		)
		if err != nil {
			return fmt.Errorf("insert task event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask returns a task by ID.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks of a project, optionally narrowed to a queue.
func (s *Store) ListTasks(projectID, queueID string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if queueID != "" {
		query += ` AND queue_id = ?`
		args = append(args, queueID)
	}
	query += ` ORDER BY priority DESC, created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// NextEligibleTask returns the highest-priority, oldest-created task sitting
// in a queue owned by the given owner type, skipping tasks with a recorded
// error. Returns nil when no task is eligible.
func (s *Store) NextEligibleTask(projectID string, owner OwnerType) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT t.id, t.project_id, t.queue_id, t.title, t.description, t.priority,
		        t.session_key, t.assigned_agent, t.error, t.error_at, t.created_at, t.updated_at
		 FROM tasks t JOIN queues q ON t.queue_id = q.id
		 WHERE t.project_id = ? AND q.owner_type = ? AND t.error = ''
		 ORDER BY t.priority DESC, t.created_at ASC, t.id ASC
		 LIMIT 1`, projectID, string(owner))
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

// ApplyTransition atomically moves a task along a transition. The gate
// callback runs inside the transaction after the structural check (the
// transition's source must be the task's current queue) and before the
// write; returning an error aborts the move. A successful move clears any
// recorded dispatch error so the task becomes eligible again.
func (s *Store) ApplyTransition(taskID, transitionID string, gate func(t *Task, tr *Transition) error) (*Task, error) {
	var moved *Task
	err := s.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
		t, err := scanTask(row.Scan)
		if err == sql.ErrNoRows {
			return fault.NotFound("task %s", taskID)
		}
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}

		row = tx.QueryRow(`SELECT `+transitionColumns+` FROM transitions WHERE id = ?`, transitionID)
		tr, err := scanTransition(row.Scan)
		if err == sql.ErrNoRows {
			return fault.NotFound("transition %s", transitionID)
		}
		if err != nil {
			return fmt.Errorf("load transition: %w", err)
		}

		if tr.FromQueueID != t.QueueID {
			return fault.Conflict("task %s is not in queue %s", taskID, tr.FromQueueID)
		}
		if gate != nil {
			if err := gate(t, tr); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if !now.After(t.UpdatedAt) {
			// updated_at must strictly increase even on sub-microsecond moves.
			now = t.UpdatedAt.Add(time.Microsecond)
		}
		_, err = tx.Exec(
			`UPDATE tasks SET queue_id = ?, error = '', error_at = NULL, updated_at = ? WHERE id = ?`,
			tr.ToQueueID, now, taskID,
		)
		if err != nil {
			return fmt.Errorf("move task: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO task_events (task_id, agent, event_type, content, timestamp) VALUES (?, '', 'moved', ?, ?)`,
			taskID, fmt.Sprintf("Moved %s -> %s", tr.FromQueueID, tr.ToQueueID), now,
		)
		if err != nil {
			return fmt.Errorf("insert task event: %w", err)
		}

		t.QueueID = tr.ToQueueID
		t.UpdatedAt = now
		t.Error = ""
		t.ErrorAt = nil
		moved = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// SetTaskDispatch records the session binding for a dispatched task.
func (s *Store) SetTaskDispatch(id, sessionKey, agent string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE tasks SET session_key = ?, assigned_agent = ?, updated_at = ? WHERE id = ?`,
		sessionKey, agent, now, id,
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound("task %s", id)
	}
	return nil
}

// SetTaskError records a dispatch failure on the task so an operator can
// see why it stalled without reading logs. The task stays in its queue.
func (s *Store) SetTaskError(id, message string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE tasks SET error = ?, error_at = ?, updated_at = ? WHERE id = ?`,
		message, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("record task error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound("task %s", id)
	}
	s.AddTaskEvent(id, "", "error", message)
	return nil
}

// AddTaskEvent records an audit event for a task.
func (s *Store) AddTaskEvent(taskID, agent, eventType, content string) {
	now := time.Now().UTC()
	s.db.Exec(
		`INSERT INTO task_events (task_id, agent, event_type, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		taskID, agent, eventType, content, now,
	)
}

// GetTaskEvents returns the audit trail for a task, oldest first.
func (s *Store) GetTaskEvents(taskID string) ([]TaskEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, agent, event_type, content, timestamp FROM task_events WHERE task_id = ? ORDER BY timestamp, id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("get task events: %w", err)
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		var e TaskEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Agent, &e.Type, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanTask(scan func(...any) error) (*Task, error) {
	var t Task
	var errorAt sql.NullTime
	err := scan(&t.ID, &t.ProjectID, &t.QueueID, &t.Title, &t.Description, &t.Priority,
		&t.SessionKey, &t.AssignedAgent, &t.Error, &errorAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if errorAt.Valid {
		t.ErrorAt = &errorAt.Time
	}
	return &t, nil
}
