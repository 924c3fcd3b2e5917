package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statusHeaderStyle = lipgloss.NewStyle().Bold(true)
	statusErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Quick status overview",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, cfg, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	projects, err := s.ListProjects()
	if err != nil {
		return err
	}
	fmt.Println(statusHeaderStyle.Render(fmt.Sprintf("Projects: %d", len(projects))))

	for _, p := range projects {
		queues, err := s.ListQueues(p.ID)
		if err != nil {
			return err
		}
		tasks, err := s.ListTasks(p.ID, "")
		if err != nil {
			return err
		}
		errored := 0
		for _, t := range tasks {
			if t.Error != "" {
				errored++
			}
		}
		line := fmt.Sprintf("  %-24s %d queues, %d tasks", p.Name, len(queues), len(tasks))
		if errored > 0 {
			line += statusErrorStyle.Render(fmt.Sprintf(" (%d errored)", errored))
		}
		fmt.Println(line)
	}

	printExecutorStatus(cfg.Listen)
	return nil
}

// printExecutorStatus asks a running server for its executor state. Best
// effort: the command still works when no server is up.
func printExecutorStatus(listen string) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/executor/status", listen))
	if err != nil {
		fmt.Println("\nExecutor: not running (server unreachable)")
		return
	}
	defer resp.Body.Close()

	var st struct {
		Running   bool   `json:"running"`
		ProjectID string `json:"project_id,omitempty"`
		Phase     string `json:"phase,omitempty"`
		Gateway   string `json:"gateway"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Println("\nExecutor: status unavailable")
		return
	}

	if st.Running {
		fmt.Printf("\nExecutor: running on project %s (%s), gateway %s\n", st.ProjectID, st.Phase, st.Gateway)
	} else {
		fmt.Printf("\nExecutor: idle, gateway %s\n", st.Gateway)
	}
}
