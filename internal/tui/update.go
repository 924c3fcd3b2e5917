package tui

import (
	"encoding/json"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/heathdorn/overseer/internal/bus"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.screen {
		case screenCreate:
			return m.handleCreateKey(msg)
		case screenMove:
			return m.handleMoveKey(msg)
		case screenDetail:
			return m.handleDetailKey(msg)
		default:
			return m.handleBoardKey(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case boardLoadedMsg:
		if msg.err != nil {
			m.statusMsg = "Load failed: " + msg.err.Error()
			return m, nil
		}
		m.queues = msg.queues
		m.columns = msg.columns
		m.rebuildCursor()
		return m, nil

	case taskDetailMsg:
		m.selectedTask = msg.task
		m.taskEvents = msg.events
		m.screen = screenDetail
		return m, nil

	case movesLoadedMsg:
		if len(msg.choices) == 0 {
			m.statusMsg = "No transitions available for you from this queue"
			return m, nil
		}
		m.moveChoices = msg.choices
		m.moveCursor = 0
		m.screen = screenMove
		return m, nil

	case busEventMsg:
		cmds := []tea.Cmd{m.waitForEvent()}
		ev := bus.Event(msg)
		if ev.Type == bus.ExecutorStatus {
			m.execPhase = executorPhase(ev.Payload)
		}
		if ev.ProjectID == "" || ev.ProjectID == m.projectID {
			cmds = append(cmds, m.refreshBoard())
		}
		return m, tea.Batch(cmds...)

	case statusMsgMsg:
		m.statusMsg = string(msg)
		return m, m.refreshBoard()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// executorPhase pulls the phase out of an executor status payload without
// depending on its concrete type.
func executorPhase(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	var st struct {
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return ""
	}
	return st.Phase
}

func (m Model) handleBoardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.sub.Unsubscribe()
		return m, tea.Quit

	case "left", "h":
		m.cursorCol--
		m.rebuildCursor()
	case "right", "l":
		m.cursorCol++
		m.rebuildCursor()
	case "up", "k":
		m.cursorRow--
		m.rebuildCursor()
	case "down", "j":
		m.cursorRow++
		m.rebuildCursor()

	case "r":
		return m, m.refreshBoard()

	case "c":
		if len(m.queues) == 0 {
			m.statusMsg = "Create a queue first"
			return m, nil
		}
		m.titleInput.SetValue("")
		m.descInput.SetValue("")
		m.titleInput.Focus()
		m.descInput.Blur()
		m.inputFocused = 0
		m.screen = screenCreate
		return m, textinput.Blink

	case "m":
		if t := m.selectedFromBoard(); t != nil {
			return m, m.loadMoves(*t)
		}

	case "enter":
		if t := m.selectedFromBoard(); t != nil {
			return m, m.loadTaskDetail(t.ID)
		}
	}
	return m, nil
}

func (m Model) handleCreateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.screen = screenBoard
		return m, nil

	case "tab", "shift+tab":
		if m.inputFocused == 0 {
			m.inputFocused = 1
			m.titleInput.Blur()
			m.descInput.Focus()
		} else {
			m.inputFocused = 0
			m.descInput.Blur()
			m.titleInput.Focus()
		}
		return m, textinput.Blink

	case "enter":
		title := m.titleInput.Value()
		if title == "" {
			m.statusMsg = "Title is required"
			return m, nil
		}
		m.screen = screenBoard
		return m, m.createTask(m.queues[m.cursorCol].ID, title, m.descInput.Value())
	}

	var cmd tea.Cmd
	if m.inputFocused == 0 {
		m.titleInput, cmd = m.titleInput.Update(msg)
	} else {
		m.descInput, cmd = m.descInput.Update(msg)
	}
	return m, cmd
}

func (m Model) handleMoveKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.screen = screenBoard
		return m, nil

	case "up", "k":
		if m.moveCursor > 0 {
			m.moveCursor--
		}
	case "down", "j":
		if m.moveCursor < len(m.moveChoices)-1 {
			m.moveCursor++
		}

	case "enter":
		t := m.selectedFromBoard()
		if t == nil {
			m.screen = screenBoard
			return m, nil
		}
		choice := m.moveChoices[m.moveCursor]
		m.screen = screenBoard
		return m, m.applyMove(t.ID, choice.transition.ID)
	}
	return m, nil
}

func (m Model) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "enter":
		m.screen = screenBoard
		m.selectedTask = nil
		m.taskEvents = nil
	}
	return m, nil
}
