package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/heathdorn/overseer/internal/config"
	"github.com/heathdorn/overseer/internal/store"
)

const overseerDirName = ".overseer"

// overseerPath returns the path to a file inside .overseer/.
func overseerPath(parts ...string) string {
	elems := append([]string{overseerDirName}, parts...)
	return filepath.Join(elems...)
}

// loadConfig reads the config, returning an error if overseer is not
// initialized here.
func loadConfig() (*config.Config, error) {
	cfgPath := overseerPath("config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("overseer not initialized. Run: overseer init")
	}
	return config.Load(cfgPath)
}

// mustStore opens the store from the local config.
func mustStore() (*store.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

// resolveProject accepts a project id or name; with an empty ref it picks
// the only project if exactly one exists.
func resolveProject(s *store.Store, ref string) (*store.Project, error) {
	if ref != "" {
		if p, err := s.GetProject(ref); err == nil {
			return p, nil
		}
	}
	projects, err := s.ListProjects()
	if err != nil {
		return nil, err
	}
	if ref == "" {
		switch len(projects) {
		case 0:
			return nil, fmt.Errorf("no projects yet. Run: overseer project create")
		case 1:
			return &projects[0], nil
		default:
			return nil, fmt.Errorf("multiple projects exist; pass --project")
		}
	}
	for i := range projects {
		if projects[i].Name == ref {
			return &projects[i], nil
		}
	}
	return nil, fmt.Errorf("project %q not found", ref)
}

// resolveQueue accepts a queue id or name within a project.
func resolveQueue(s *store.Store, projectID, ref string) (*store.Queue, error) {
	if q, err := s.GetQueue(ref); err == nil && q.ProjectID == projectID {
		return q, nil
	}
	queues, err := s.ListQueues(projectID)
	if err != nil {
		return nil, err
	}
	for i := range queues {
		if queues[i].Name == ref {
			return &queues[i], nil
		}
	}
	return nil, fmt.Errorf("queue %q not found", ref)
}
