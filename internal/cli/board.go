package cli

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/tui"
	"github.com/heathdorn/overseer/internal/workflow"
)

var boardProject string

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the interactive task board",
	Long:  "Opens a terminal board showing the project's queues and tasks.\nTasks can be created and moved without leaving the board.",
	RunE:  runBoard,
}

func init() {
	boardCmd.Flags().StringVarP(&boardProject, "project", "P", "", "Project id or name")
}

func runBoard(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, boardProject)
	if err != nil {
		return err
	}

	b := bus.New(0)
	svc := workflow.New(s, b)

	prog := tea.NewProgram(tui.New(svc, b, p.ID), tea.WithAltScreen())
	_, err = prog.Run()
	return err
}
