package executor

import (
	"fmt"
	"strings"

	"github.com/heathdorn/overseer/internal/store"
)

// BuildPrompt assembles the message sent to an agent session for a task.
// It reads like a ticket: project framing, the task itself, then the
// relevant history so a reused session can pick up where it left off.
func BuildPrompt(project *store.Project, task *store.Task, events []store.TaskEvent) string {
	var parts []string

	if project.SystemPrompt != "" {
		parts = append(parts, project.SystemPrompt)
	}

	parts = append(parts, taskSection(task))

	if h := historySection(events); h != "" {
		parts = append(parts, h)
	}

	parts = append(parts, instructions())

	return strings.Join(parts, "\n\n")
}

func taskSection(task *store.Task) string {
	var sb strings.Builder

	sb.WriteString("## Task\n")
	sb.WriteString(fmt.Sprintf("**%s**\n", task.Title))
	sb.WriteString(fmt.Sprintf("Priority: %d\n", task.Priority))

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n### Description\n%s\n", task.Description))
	}

	return sb.String()
}

func historySection(events []store.TaskEvent) string {
	// Only events that carry information the agent can act on.
	var relevant []store.TaskEvent
	for _, e := range events {
		switch e.Type {
		case "comment", "completed", "error", "moved":
			relevant = append(relevant, e)
		}
	}
	if len(relevant) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## History\n")
	sb.WriteString("Previous activity on this task:\n\n")
	for _, e := range relevant {
		who := "system"
		if e.Agent != "" {
			who = e.Agent
		}
		sb.WriteString(fmt.Sprintf("- **[%s]** %s: %s\n", who, e.Type, e.Content))
	}
	return sb.String()
}

func instructions() string {
	return `## Instructions
- Complete the task described above.
- Focus on the specific task; do not take on unrelated work.
- If something is unclear, state your assumption explicitly and proceed.`
}
