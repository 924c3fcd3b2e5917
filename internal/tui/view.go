package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// --- Color palette ---
var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

// --- Styles ---
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle    = lipgloss.NewStyle().Foreground(clrDim)
	subtleStyle = lipgloss.NewStyle().Foreground(clrSubtle)

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1).
			Width(28)

	columnActiveStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(clrHighlight).
				Padding(0, 1).
				Width(28)

	cardStyle         = lipgloss.NewStyle().Foreground(clrSubtle)
	cardSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	cardErrorStyle    = lipgloss.NewStyle().Foreground(clrRed)

	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrHighlight).
			Padding(1, 2).
			Width(60)

	statusStyle = lipgloss.NewStyle().Foreground(clrGreen).Bold(true)

	footerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	footerDescStyle = lipgloss.NewStyle().Foreground(clrSubtle)
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.screen {
	case screenDetail:
		content = m.viewDetail()
	case screenCreate:
		content = m.viewCreate()
	case screenMove:
		content = m.viewMove()
	default:
		content = m.viewBoard()
	}

	footer := m.viewFooter()
	return lipgloss.JoinVertical(lipgloss.Left, content, footer)
}

func (m Model) viewBoard() string {
	if len(m.queues) == 0 {
		return dimStyle.Render("\n  No queues yet. Add one: overseer queue add\n")
	}

	cols := make([]string, 0, len(m.queues))
	for i, q := range m.queues {
		var sb strings.Builder
		owner := dimStyle.Render(string(q.OwnerType))
		sb.WriteString(titleStyle.Render(q.Name) + " " + owner + "\n")

		tasks := m.columns[i]
		if len(tasks) == 0 {
			sb.WriteString(dimStyle.Render("  (empty)"))
		}
		for j, t := range tasks {
			style := cardStyle
			if t.Error != "" {
				style = cardErrorStyle
			}
			cursor := "  "
			if m.screen == screenBoard && i == m.cursorCol && j == m.cursorRow {
				style = cardSelectedStyle
				cursor = "> "
			}
			line := fmt.Sprintf("%s%s %s", cursor, priorityBadge(t.Priority), truncate(t.Title, 20))
			sb.WriteString(style.Render(line) + "\n")
			if t.AssignedAgent != "" {
				sb.WriteString(dimStyle.Render("     "+t.AssignedAgent) + "\n")
			}
		}

		box := columnStyle
		if i == m.cursorCol {
			box = columnActiveStyle
		}
		cols = append(cols, box.Render(sb.String()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m Model) viewDetail() string {
	t := m.selectedTask
	if t == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(t.Title) + "\n\n")
	sb.WriteString(subtleStyle.Render("Priority: ") + fmt.Sprint(t.Priority) + "\n")
	if t.Description != "" {
		sb.WriteString(subtleStyle.Render("Description: ") + t.Description + "\n")
	}
	if t.AssignedAgent != "" {
		sb.WriteString(subtleStyle.Render("Agent: ") + t.AssignedAgent + "\n")
	}
	if t.SessionKey != "" {
		sb.WriteString(subtleStyle.Render("Session: ") + t.SessionKey + "\n")
	}
	if t.Error != "" {
		sb.WriteString(cardErrorStyle.Render("Error: "+t.Error) + "\n")
	}
	sb.WriteString(subtleStyle.Render("Updated: ") + t.UpdatedAt.Format("2006-01-02 15:04:05") + "\n")

	if len(m.taskEvents) > 0 {
		sb.WriteString("\n" + titleStyle.Render("History") + "\n")
		for _, e := range m.taskEvents {
			who := e.Agent
			if who == "" {
				who = "system"
			}
			sb.WriteString(fmt.Sprintf("  %s %s %s: %s\n",
				dimStyle.Render(e.Timestamp.Format("15:04")),
				subtleStyle.Render("["+who+"]"),
				e.Type, truncate(e.Content, 60)))
		}
	}

	return popupStyle.Render(sb.String())
}

func (m Model) viewCreate() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("New task in "+m.queues[m.cursorCol].Name) + "\n\n")
	sb.WriteString(m.titleInput.View() + "\n")
	sb.WriteString(m.descInput.View() + "\n\n")
	sb.WriteString(dimStyle.Render("enter: create • tab: next field • esc: cancel"))
	return popupStyle.Render(sb.String())
}

func (m Model) viewMove() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Move task to...") + "\n\n")
	for i, c := range m.moveChoices {
		cursor := "  "
		style := cardStyle
		if i == m.moveCursor {
			cursor = "> "
			style = cardSelectedStyle
		}
		label := c.target
		if c.transition.AutoTrigger {
			label += dimStyle.Render("  (auto)")
		}
		sb.WriteString(style.Render(cursor+label) + "\n")
	}
	sb.WriteString("\n" + dimStyle.Render("enter: move • esc: cancel"))
	return popupStyle.Render(sb.String())
}

func (m Model) viewFooter() string {
	var keys []string
	switch m.screen {
	case screenBoard:
		keys = []string{"←→↑↓ navigate", "enter detail", "c create", "m move", "r refresh", "q quit"}
	case screenDetail:
		keys = []string{"esc back"}
	default:
		keys = []string{"esc cancel"}
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		fields := strings.SplitN(k, " ", 2)
		parts = append(parts, footerKeyStyle.Render(fields[0])+" "+footerDescStyle.Render(fields[1]))
	}
	footer := strings.Join(parts, dimStyle.Render("  •  "))

	if m.execPhase != "" {
		exec := "executor: " + m.execPhase
		if m.execPhase == "dispatching" || m.execPhase == "running" {
			exec = m.spin.View() + exec
		}
		footer += "   " + subtleStyle.Render(exec)
	}
	if m.statusMsg != "" {
		footer += "\n" + statusStyle.Render(m.statusMsg)
	}
	return footer
}

func priorityBadge(p int) string {
	switch {
	case p >= 7:
		return lipgloss.NewStyle().Foreground(clrRed).Bold(true).Render("!!")
	case p >= 4:
		return lipgloss.NewStyle().Foreground(clrYellow).Render("! ")
	default:
		return dimStyle.Render("· ")
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
