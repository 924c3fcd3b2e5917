package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heathdorn/overseer/internal/store"
)

var (
	projectPrompt string
	projectMode   string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new project",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE:  runProjectList,
}

var projectRmCmd = &cobra.Command{
	Use:   "rm [id|name]",
	Short: "Delete a project and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectRm,
}

func init() {
	projectCreateCmd.Flags().StringVarP(&projectPrompt, "prompt", "s", "", "System prompt prepended to every dispatch")
	projectCreateCmd.Flags().StringVarP(&projectMode, "mode", "m", "per-task", "Session mode: per-task, agent-pool, any-free")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRmCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	name := strings.Join(args, " ")
	mode := store.SessionMode(projectMode)
	switch mode {
	case store.SessionPerTask, store.SessionAgentPool, store.SessionAnyFree:
	default:
		return fmt.Errorf("invalid session mode: %s", projectMode)
	}

	p, err := s.CreateProject(name, projectPrompt, mode)
	if err != nil {
		return err
	}

	fmt.Printf("Created project %s: %s [%s]\n", p.ID, p.Name, p.SessionMode)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	projects, err := s.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects found.")
		return nil
	}

	for _, p := range projects {
		pin := ""
		if p.Pinned {
			pin = " *"
		}
		fmt.Printf("%-36s %-12s %s%s\n", p.ID, p.SessionMode, p.Name, pin)
	}
	return nil
}

func runProjectRm(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, args[0])
	if err != nil {
		return err
	}
	if err := s.DeleteProject(p.ID); err != nil {
		return err
	}

	fmt.Printf("Deleted project %s\n", p.Name)
	return nil
}
