package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.2.0"

var rootCmd = &cobra.Command{
	Use:     "overseer",
	Short:   "Task dispatch board for agent sessions",
	Long:    "overseer — a workflow board whose assistant-owned queues are worked\nby agent sessions behind a gateway. You define the queues and\ntransitions; the executor keeps the agents busy.",
	Version: version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(boardCmd)
}
