package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/heathdorn/overseer/internal/store"
)

const sampleWorkflow = `
name: Support
system_prompt: You triage support tickets.
session_mode: any-free
queues:
  - name: Inbox
    owner: assistant
    description: New tickets land here
  - name: Waiting
    owner: human
  - name: Closed
    owner: human
transitions:
  - from: Inbox
    to: Waiting
    actor: assistant
    auto: true
    conditions:
      all:
        - field: error
          op: unset
  - from: Waiting
    to: Closed
    actor: human
`

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func TestSeedWorkflow(t *testing.T) {
	s := testStore(t)

	p, err := seedWorkflow(s, writeTemplate(t, sampleWorkflow))
	if err != nil {
		t.Fatalf("seedWorkflow: %v", err)
	}
	if p.Name != "Support" {
		t.Errorf("project name = %q, want Support", p.Name)
	}
	if p.SessionMode != store.SessionAnyFree {
		t.Errorf("session mode = %q, want any-free", p.SessionMode)
	}

	queues, err := s.ListQueues(p.ID)
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	if len(queues) != 3 {
		t.Fatalf("got %d queues, want 3", len(queues))
	}
	if queues[0].Name != "Inbox" || queues[0].OwnerType != store.OwnerAssistant {
		t.Errorf("first queue = %s/%s, want Inbox/assistant", queues[0].Name, queues[0].OwnerType)
	}
	if queues[1].OwnerType != store.OwnerHuman {
		t.Errorf("Waiting owner = %s, want human", queues[1].OwnerType)
	}

	transitions, err := s.ListTransitions(p.ID)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(transitions) != 2 {
		t.Fatalf("got %d transitions, want 2", len(transitions))
	}
	for _, tr := range transitions {
		if tr.FromQueueID == queues[0].ID {
			if !tr.AutoTrigger {
				t.Error("Inbox transition should be auto")
			}
			if tr.ActorType != store.ActorTypeAssistant {
				t.Errorf("Inbox transition actor = %s, want assistant", tr.ActorType)
			}
			if len(tr.Conditions) == 0 {
				t.Error("Inbox transition lost its conditions")
			}
		}
	}
}

func TestSeedWorkflowUnknownQueue(t *testing.T) {
	s := testStore(t)

	tpl := `
name: Broken
queues:
  - name: Only
transitions:
  - from: Only
    to: Missing
`
	if _, err := seedWorkflow(s, writeTemplate(t, tpl)); err == nil {
		t.Fatal("expected error for unknown queue reference")
	}
}

func TestSeedWorkflowDefaults(t *testing.T) {
	s := testStore(t)

	tpl := `
name: Minimal
queues:
  - name: Todo
  - name: Done
transitions:
  - from: Todo
    to: Done
`
	p, err := seedWorkflow(s, writeTemplate(t, tpl))
	if err != nil {
		t.Fatalf("seedWorkflow: %v", err)
	}
	if p.SessionMode != store.SessionPerTask {
		t.Errorf("default session mode = %q, want per-task", p.SessionMode)
	}

	queues, _ := s.ListQueues(p.ID)
	if queues[0].OwnerType != store.OwnerHuman {
		t.Errorf("default owner = %s, want human", queues[0].OwnerType)
	}
	transitions, _ := s.ListTransitions(p.ID)
	if transitions[0].ActorType != store.ActorTypeBoth {
		t.Errorf("default actor = %s, want both", transitions[0].ActorType)
	}
	if transitions[0].AutoTrigger {
		t.Error("transitions default to manual")
	}
}

func TestResolveProject(t *testing.T) {
	s := testStore(t)

	if _, err := resolveProject(s, ""); err == nil {
		t.Fatal("expected error with no projects")
	}

	p1, err := s.CreateProject("alpha", "", store.SessionPerTask)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	got, err := resolveProject(s, "")
	if err != nil {
		t.Fatalf("resolve sole project: %v", err)
	}
	if got.ID != p1.ID {
		t.Errorf("resolved %s, want %s", got.ID, p1.ID)
	}

	p2, err := s.CreateProject("beta", "", store.SessionPerTask)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	if _, err := resolveProject(s, ""); err == nil {
		t.Fatal("expected error with multiple projects and no ref")
	}

	got, err = resolveProject(s, "beta")
	if err != nil {
		t.Fatalf("resolve by name: %v", err)
	}
	if got.ID != p2.ID {
		t.Errorf("resolved %s, want %s", got.ID, p2.ID)
	}

	got, err = resolveProject(s, p1.ID)
	if err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if got.ID != p1.ID {
		t.Errorf("resolved %s, want %s", got.ID, p1.ID)
	}

	if _, err := resolveProject(s, "missing"); err == nil {
		t.Fatal("expected error for unknown ref")
	}
}
