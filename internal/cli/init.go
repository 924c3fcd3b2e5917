package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/heathdorn/overseer/internal/config"
	"github.com/heathdorn/overseer/internal/store"
)

var initWorkflow string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize overseer in the current directory",
	Long:  "Creates a .overseer/ directory with default config and database.\nPass --workflow to seed a project from a workflow template.",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initWorkflow, "workflow", "w", "", "Workflow template (YAML) to seed a project from")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(overseerDirName); err == nil {
		return fmt.Errorf("overseer already initialized in this directory (.overseer/ exists)")
	}

	if err := os.MkdirAll(overseerDirName, 0755); err != nil {
		return fmt.Errorf("create %s: %w", overseerDirName, err)
	}

	cfg := config.DefaultConfig()
	if err := config.Save(overseerPath("config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// Opening the store runs the migration.
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	defer s.Close()

	if initWorkflow != "" {
		p, err := seedWorkflow(s, initWorkflow)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded project %q (%s)\n", p.Name, p.ID)
	}

	fmt.Println("Initialized overseer in .overseer/")
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit .overseer/config.yaml (gateway address and token)")
	fmt.Println("  2. Run: overseer serve")
	fmt.Println("  3. Run: overseer board")

	return nil
}

// workflowTemplate is the YAML shape accepted by --workflow.
type workflowTemplate struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	SessionMode  string `yaml:"session_mode"`
	Queues       []struct {
		Name        string `yaml:"name"`
		Owner       string `yaml:"owner"`
		Description string `yaml:"description"`
	} `yaml:"queues"`
	Transitions []struct {
		From       string         `yaml:"from"`
		To         string         `yaml:"to"`
		Actor      string         `yaml:"actor"`
		Auto       bool           `yaml:"auto"`
		Conditions map[string]any `yaml:"conditions"`
	} `yaml:"transitions"`
}

// seedWorkflow creates a project, its queues, and its transitions from a
// template file. Queue references in transitions are by name.
func seedWorkflow(s *store.Store, path string) (*store.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow template: %w", err)
	}
	var tpl workflowTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse workflow template: %w", err)
	}
	if tpl.Name == "" {
		return nil, fmt.Errorf("workflow template has no name")
	}
	if len(tpl.Queues) == 0 {
		return nil, fmt.Errorf("workflow template has no queues")
	}

	mode := store.SessionMode(tpl.SessionMode)
	if mode == "" {
		mode = store.SessionPerTask
	}
	p, err := s.CreateProject(tpl.Name, tpl.SystemPrompt, mode)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(tpl.Queues))
	for _, q := range tpl.Queues {
		owner := store.OwnerType(q.Owner)
		if owner == "" {
			owner = store.OwnerHuman
		}
		created, err := s.CreateQueue(p.ID, q.Name, owner, q.Description, nil)
		if err != nil {
			return nil, fmt.Errorf("queue %q: %w", q.Name, err)
		}
		byName[q.Name] = created.ID
	}

	for _, tr := range tpl.Transitions {
		from, ok := byName[tr.From]
		if !ok {
			return nil, fmt.Errorf("transition references unknown queue %q", tr.From)
		}
		to, ok := byName[tr.To]
		if !ok {
			return nil, fmt.Errorf("transition references unknown queue %q", tr.To)
		}
		actor := store.ActorType(tr.Actor)
		if actor == "" {
			actor = store.ActorTypeBoth
		}
		var conditions []byte
		if len(tr.Conditions) > 0 {
			conditions, err = json.Marshal(tr.Conditions)
			if err != nil {
				return nil, fmt.Errorf("transition %s -> %s: %w", tr.From, tr.To, err)
			}
		}
		if _, err := s.CreateTransition(from, to, actor, conditions, tr.Auto); err != nil {
			return nil, fmt.Errorf("transition %s -> %s: %w", tr.From, tr.To, err)
		}
	}

	return p, nil
}
