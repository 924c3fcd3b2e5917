// Package tui is the interactive board: queues as columns, tasks as cards,
// live-updated from the event bus.
package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/store"
	"github.com/heathdorn/overseer/internal/workflow"
)

// screen represents which view the TUI is showing.
type screen int

const (
	screenBoard  screen = iota // queue columns (main)
	screenDetail               // task detail panel
	screenCreate               // create new task
	screenMove                 // pick a transition for the selected task
)

// moveChoice is one transition the user can apply from the move popup.
type moveChoice struct {
	transition store.Transition
	target     string
}

// Model is the top-level bubbletea model.
type Model struct {
	svc       *workflow.Service
	sub       *bus.Subscription
	projectID string

	width  int
	height int
	screen screen

	// Board state: columns[i] holds the tasks of queues[i].
	queues    []store.Queue
	columns   [][]store.Task
	cursorCol int
	cursorRow int

	// Create dialog.
	titleInput   textinput.Model
	descInput    textinput.Model
	inputFocused int

	// Detail panel.
	selectedTask *store.Task
	taskEvents   []store.TaskEvent

	// Move popup.
	moveChoices []moveChoice
	moveCursor  int

	statusMsg string
	execPhase string
	spin      spinner.Model
	quitting  bool
}

// New creates the board model for one project.
func New(svc *workflow.Service, b *bus.Bus, projectID string) Model {
	ti := textinput.New()
	ti.Placeholder = "Task title..."
	ti.CharLimit = 120
	ti.Width = 50

	di := textinput.New()
	di.Placeholder = "Description (optional)..."
	di.CharLimit = 500
	di.Width = 50

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		svc:        svc,
		sub:        b.Subscribe(),
		projectID:  projectID,
		screen:     screenBoard,
		titleInput: ti,
		descInput:  di,
		spin:       sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshBoard(), m.waitForEvent(), m.spin.Tick)
}

type boardLoadedMsg struct {
	queues  []store.Queue
	columns [][]store.Task
	err     error
}

type taskDetailMsg struct {
	task   *store.Task
	events []store.TaskEvent
}

type movesLoadedMsg struct {
	choices []moveChoice
}

type busEventMsg bus.Event

type statusMsgMsg string

func (m Model) refreshBoard() tea.Cmd {
	return func() tea.Msg {
		st := m.svc.Store()
		queues, err := st.ListQueues(m.projectID)
		if err != nil {
			return boardLoadedMsg{err: err}
		}
		columns := make([][]store.Task, len(queues))
		for i, q := range queues {
			tasks, err := st.ListTasks(m.projectID, q.ID)
			if err != nil {
				return boardLoadedMsg{err: err}
			}
			columns[i] = tasks
		}
		return boardLoadedMsg{queues: queues, columns: columns}
	}
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.sub.C
		if !ok {
			return nil
		}
		return busEventMsg(ev)
	}
}

func (m Model) loadTaskDetail(id string) tea.Cmd {
	return func() tea.Msg {
		task, err := m.svc.Store().GetTask(id)
		if err != nil {
			return statusMsgMsg("Error loading task")
		}
		events, _ := m.svc.Store().GetTaskEvents(id)
		return taskDetailMsg{task: task, events: events}
	}
}

func (m Model) loadMoves(task store.Task) tea.Cmd {
	return func() tea.Msg {
		st := m.svc.Store()
		transitions, err := st.TransitionsFrom(task.QueueID, false)
		if err != nil {
			return statusMsgMsg("Error loading transitions")
		}
		var choices []moveChoice
		for _, tr := range transitions {
			if !tr.ActorType.Permits(store.ActorHuman) {
				continue
			}
			target := tr.ToQueueID
			if q, err := st.GetQueue(tr.ToQueueID); err == nil {
				target = q.Name
			}
			choices = append(choices, moveChoice{transition: tr, target: target})
		}
		return movesLoadedMsg{choices: choices}
	}
}

func (m Model) applyMove(taskID, transitionID string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.svc.ApplyTransition(taskID, transitionID, store.ActorHuman); err != nil {
			return statusMsgMsg("Move failed: " + err.Error())
		}
		return statusMsgMsg("Task moved")
	}
}

func (m Model) createTask(queueID, title, desc string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.svc.CreateTask(m.projectID, queueID, title, desc, 0); err != nil {
			return statusMsgMsg("Create failed: " + err.Error())
		}
		return statusMsgMsg("Task created")
	}
}

func (m *Model) rebuildCursor() {
	if m.cursorCol < 0 {
		m.cursorCol = 0
	}
	if m.cursorCol >= len(m.columns) {
		m.cursorCol = len(m.columns) - 1
	}
	if m.cursorCol < 0 {
		m.cursorRow = 0
		return
	}
	col := m.columns[m.cursorCol]
	if m.cursorRow >= len(col) {
		m.cursorRow = len(col) - 1
	}
	if m.cursorRow < 0 {
		m.cursorRow = 0
	}
}

func (m *Model) selectedFromBoard() *store.Task {
	if m.cursorCol < 0 || m.cursorCol >= len(m.columns) {
		return nil
	}
	col := m.columns[m.cursorCol]
	if m.cursorRow < len(col) {
		t := col[m.cursorRow]
		return &t
	}
	return nil
}
