// Package executor drives assistant-owned queues: it picks the next
// eligible task, dispatches it to an agent session through the gateway,
// and advances the task along auto transitions when the run completes.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/fault"
	"github.com/heathdorn/overseer/internal/gateway"
	"github.com/heathdorn/overseer/internal/store"
	"github.com/heathdorn/overseer/internal/workflow"
)

// Gateway is the slice of the gateway client the executor needs. Tests
// substitute an in-process stub.
type Gateway interface {
	ChatSend(ctx context.Context, p gateway.ChatSendParams) (*gateway.ChatSendResult, error)
	Subscribe() *gateway.EventSub
	State() gateway.State
	Configure(addr, token string)
}

// Config tunes the dispatch loop.
type Config struct {
	PollInterval  time.Duration
	AgentPoolSize int
	// EligibleOwner selects which queues the executor drains.
	EligibleOwner store.OwnerType
	Logger        *log.Logger
}

func (c *Config) fillDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.AgentPoolSize == 0 {
		c.AgentPoolSize = 4
	}
	if c.EligibleOwner == "" {
		c.EligibleOwner = store.OwnerAssistant
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[executor] ", log.LstdFlags)
	}
}

// Status is a snapshot of the executor's state.
type Status struct {
	Running   bool   `json:"running"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	Phase     string `json:"phase"`
	Gateway   string `json:"gateway,omitempty"`
}

// Executor runs at most one project's dispatch loop at a time. All run
// state lives on this object; starting a second executor is just
// constructing a second one.
type Executor struct {
	svc *workflow.Service
	gw  Gateway
	bus *bus.Bus
	cfg Config
	log *log.Logger

	mu        sync.Mutex
	running   bool
	projectID string
	taskID    string
	runID     string
	phase     string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an executor over the given workflow service and gateway.
func New(svc *workflow.Service, gw Gateway, b *bus.Bus, cfg Config) *Executor {
	cfg.fillDefaults()
	return &Executor{svc: svc, gw: gw, bus: b, cfg: cfg, log: cfg.Logger, phase: "idle"}
}

// Start begins the dispatch loop for a project. Starting the project that
// is already running is a no-op; starting a different one while busy is a
// conflict, the caller must stop the current run first.
func (e *Executor) Start(projectID string) error {
	e.mu.Lock()
	if e.running {
		same := e.projectID == projectID
		e.mu.Unlock()
		if same {
			return nil
		}
		return fault.Conflict("executor is already running project %s", e.projectID)
	}
	e.mu.Unlock()

	project, err := e.svc.Store().GetProject(projectID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.running {
		same := e.projectID == projectID
		e.mu.Unlock()
		cancel()
		if same {
			return nil
		}
		return fault.Conflict("executor is already running project %s", e.projectID)
	}
	e.running = true
	e.projectID = projectID
	e.taskID = ""
	e.runID = ""
	e.phase = "polling"
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	e.publishStatus()
	go e.loop(ctx, project, done)
	return nil
}

// Stop halts the loop and waits for it to exit. Stopping an idle executor
// is a no-op.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
}

// ConfigureGateway retargets the gateway client. The change applies to
// the client's next dial, not to a connection already up.
func (e *Executor) ConfigureGateway(addr, token string) {
	e.gw.Configure(addr, token)
}

// Status reports the current run state.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:   e.running,
		ProjectID: e.projectID,
		TaskID:    e.taskID,
		RunID:     e.runID,
		Phase:     e.phase,
		Gateway:   string(e.gw.State()),
	}
}

func (e *Executor) publishStatus() {
	st := e.Status()
	e.bus.Publish(bus.ExecutorStatus, st.ProjectID, st)
}

func (e *Executor) loop(ctx context.Context, project *store.Project, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.taskID = ""
		e.runID = ""
		e.phase = "idle"
		projectID := e.projectID
		e.projectID = ""
		e.mu.Unlock()
		e.bus.Publish(bus.ExecutorStatus, projectID, e.Status())
		close(done)
	}()

	sub := e.gw.Subscribe()
	defer sub.Unsubscribe()

	sessions := newSessionAllocator(project, e.cfg.AgentPoolSize)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.dispatchNext(ctx, project, sessions)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			e.handleEvent(ev)
			e.dispatchNext(ctx, project, sessions)
		case <-ticker.C:
			e.dispatchNext(ctx, project, sessions)
		}
	}
}

// dispatchNext sends the next eligible task to the gateway. The loop runs
// one task at a time per project.
func (e *Executor) dispatchNext(ctx context.Context, project *store.Project, sessions *sessionAllocator) {
	e.mu.Lock()
	busy := e.taskID != ""
	e.mu.Unlock()
	if busy {
		return
	}

	st := e.svc.Store()
	task, err := st.NextEligibleTask(project.ID, e.cfg.EligibleOwner)
	if err != nil {
		e.log.Printf("select next task: %v", err)
		return
	}
	if task == nil {
		return
	}

	sessionKey, agentName := sessions.bind(task)

	// The dispatch is recorded before any network I/O so a crash between
	// here and the send leaves an inspectable trail.
	e.mu.Lock()
	e.taskID = task.ID
	e.runID = ""
	e.phase = "dispatching"
	e.mu.Unlock()
	st.AddTaskEvent(task.ID, agentName, "dispatching", "sending to session "+sessionKey)
	e.publishStatus()

	res, err := e.gw.ChatSend(ctx, gateway.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        BuildPrompt(project, task, taskHistory(st, task.ID)),
		IdempotencyKey: task.ID + ":" + fmt.Sprint(task.UpdatedAt.UnixNano()),
	})
	if err != nil {
		e.mu.Lock()
		e.taskID = ""
		e.runID = ""
		e.phase = "polling"
		e.mu.Unlock()
		if ctx.Err() != nil {
			// Stop abandoned the in-flight send; the task is untouched and
			// stays eligible for the next run.
			e.log.Printf("dispatch %s abandoned: %v", task.ID, err)
		} else if fault.IsRetryable(err) {
			// Transient transport trouble; the task stays eligible and the
			// next tick retries it.
			e.log.Printf("dispatch %s deferred: %v", task.ID, err)
		} else {
			e.log.Printf("dispatch %s failed: %v", task.ID, err)
			if rerr := e.svc.RecordTaskError(task.ID, err.Error()); rerr != nil {
				e.log.Printf("record error on %s: %v", task.ID, rerr)
			}
		}
		e.publishStatus()
		return
	}

	if err := st.SetTaskDispatch(task.ID, res.SessionKey, agentName); err != nil {
		e.log.Printf("record dispatch on %s: %v", task.ID, err)
	}

	e.mu.Lock()
	e.runID = res.RunID
	e.phase = "running"
	e.mu.Unlock()
	e.log.Printf("dispatched task %s as run %s on %s", task.ID, res.RunID, res.SessionKey)
	e.publishStatus()
}

// handleEvent consumes gateway events, reacting only to the chat run the
// executor currently owns. Terminal events for already-finished runs are
// ignored, so a duplicated final frame cannot double-advance a task.
func (e *Executor) handleEvent(ev gateway.Event) {
	if ev.Name != gateway.EventChat {
		return
	}
	chat, err := gateway.DecodeChatEvent(ev.Payload)
	if err != nil {
		e.log.Printf("drop chat event: %v", err)
		return
	}

	e.mu.Lock()
	taskID, runID := e.taskID, e.runID
	e.mu.Unlock()
	if runID == "" || chat.RunID != runID {
		return
	}

	switch chat.State {
	case gateway.ChatDelta:
		return
	case gateway.ChatUnrecognized:
		e.log.Printf("run %s: unrecognized chat state, ignoring", runID)
		return
	}

	// Terminal. Release the slot before touching the store so a slow
	// transition cannot wedge event handling.
	e.mu.Lock()
	e.taskID = ""
	e.runID = ""
	e.phase = "polling"
	e.mu.Unlock()

	st := e.svc.Store()
	switch chat.State {
	case gateway.ChatFinal:
		if chat.Text != "" {
			st.AddTaskEvent(taskID, "", "completed", clip(chat.Text, 500))
		}
		e.autoAdvance(taskID)
	case gateway.ChatAborted:
		st.AddTaskEvent(taskID, "", "aborted", "run "+runID+" aborted")
	case gateway.ChatError:
		if err := e.svc.RecordTaskError(taskID, chat.ErrMessage); err != nil {
			e.log.Printf("record error on %s: %v", taskID, err)
		}
	}
	e.publishStatus()
}

// autoAdvance applies the first auto transition out of the task's queue
// that the assistant may take and whose conditions hold.
func (e *Executor) autoAdvance(taskID string) {
	st := e.svc.Store()
	task, err := st.GetTask(taskID)
	if err != nil {
		e.log.Printf("load finished task %s: %v", taskID, err)
		return
	}

	transitions, err := st.TransitionsFrom(task.QueueID, true)
	if err != nil {
		e.log.Printf("list auto transitions for %s: %v", task.QueueID, err)
		return
	}
	for _, tr := range transitions {
		if !tr.ActorType.Permits(store.ActorAssistant) {
			continue
		}
		if _, err := e.svc.ApplyTransition(taskID, tr.ID, store.ActorAssistant); err != nil {
			if fault.KindOf(err) == fault.KindConflict {
				// Conditions did not hold; try the next edge.
				continue
			}
			e.log.Printf("auto transition %s on task %s: %v", tr.ID, taskID, err)
			return
		}
		e.log.Printf("task %s auto-advanced to queue %s", taskID, tr.ToQueueID)
		return
	}
	e.log.Printf("task %s finished with no matching auto transition", taskID)
}

func taskHistory(st *store.Store, taskID string) []store.TaskEvent {
	events, err := st.GetTaskEvents(taskID)
	if err != nil {
		return nil
	}
	return events
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never splits a UTF-8 sequence.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
