package workflow

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/fault"
	"github.com/heathdorn/overseer/internal/store"
)

func testService(t *testing.T) (*Service, *bus.Bus) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	b := bus.New(16)
	return New(s, b), b
}

func seedProject(t *testing.T, svc *Service) (*store.Project, []*store.Queue) {
	t.Helper()
	p, err := svc.CreateProject("demo", "be helpful", store.SessionPerTask)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	var queues []*store.Queue
	for _, def := range []struct {
		name  string
		owner store.OwnerType
	}{
		{"Todo", store.OwnerAssistant},
		{"In Progress", store.OwnerAssistant},
		{"Done", store.OwnerHuman},
	} {
		q, err := svc.CreateQueue(p.ID, def.name, def.owner, "", nil)
		if err != nil {
			t.Fatalf("create queue: %v", err)
		}
		queues = append(queues, q)
	}
	return p, queues
}

func drainType(t *testing.T, sub *bus.Subscription, want string) bus.Event {
	t.Helper()
	for {
		select {
		case e := <-sub.C:
			if e.Type == want {
				return e
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event on bus", want)
		}
	}
}

func TestCreateTask_Validation(t *testing.T) {
	svc, _ := testService(t)
	p, queues := seedProject(t, svc)

	if _, err := svc.CreateTask(p.ID, queues[0].ID, "  ", "", 0); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("blank title: expected validation error, got %v", err)
	}
	if _, err := svc.CreateTask(p.ID, "", "title", "", 0); fault.KindOf(err) != fault.KindValidation {
		t.Errorf("missing queue: expected validation error, got %v", err)
	}
}

func TestCreateTask_PublishesEvent(t *testing.T) {
	svc, b := testService(t)
	p, queues := seedProject(t, svc)

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	task, err := svc.CreateTask(p.ID, queues[0].ID, "write docs", "", 2)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	e := drainType(t, sub, bus.TaskCreated)
	if e.ProjectID != p.ID {
		t.Errorf("event project = %s, want %s", e.ProjectID, p.ID)
	}
	if got := e.Payload.(*store.Task); got.ID != task.ID {
		t.Errorf("event payload task = %s, want %s", got.ID, task.ID)
	}
}

func TestApplyTransition_ActorGate(t *testing.T) {
	svc, _ := testService(t)
	p, queues := seedProject(t, svc)

	humanOnly, _ := svc.CreateTransition(queues[0].ID, queues[2].ID, store.ActorTypeHuman, nil, false)
	task, _ := svc.CreateTask(p.ID, queues[0].ID, "handoff", "", 0)

	if _, err := svc.ApplyTransition(task.ID, humanOnly.ID, store.ActorAssistant); fault.KindOf(err) != fault.KindConflict {
		t.Errorf("assistant through human-only transition: expected conflict, got %v", err)
	}

	moved, err := svc.ApplyTransition(task.ID, humanOnly.ID, store.ActorHuman)
	if err != nil {
		t.Fatalf("human move: %v", err)
	}
	if moved.QueueID != queues[2].ID {
		t.Errorf("task not moved to Done")
	}
}

func TestApplyTransition_PublishesTaskUpdated(t *testing.T) {
	svc, b := testService(t)
	p, queues := seedProject(t, svc)
	tr, _ := svc.CreateTransition(queues[0].ID, queues[1].ID, store.ActorTypeBoth, nil, false)
	task, _ := svc.CreateTask(p.ID, queues[0].ID, "observe me", "", 0)

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	if _, err := svc.ApplyTransition(task.ID, tr.ID, store.ActorHuman); err != nil {
		t.Fatalf("apply: %v", err)
	}
	drainType(t, sub, bus.TaskUpdated)
}

func TestApplyTransition_ConditionGate(t *testing.T) {
	svc, _ := testService(t)
	p, queues := seedProject(t, svc)

	cond := json.RawMessage(`{"all":[{"field":"priority","op":"gte","value":5}]}`)
	gated, _ := svc.CreateTransition(queues[0].ID, queues[1].ID, store.ActorTypeBoth, cond, false)

	low, _ := svc.CreateTask(p.ID, queues[0].ID, "low prio", "", 1)
	if _, err := svc.ApplyTransition(low.ID, gated.ID, store.ActorHuman); fault.KindOf(err) != fault.KindConflict {
		t.Errorf("condition should block low-priority task, got %v", err)
	}

	high, _ := svc.CreateTask(p.ID, queues[0].ID, "high prio", "", 9)
	if _, err := svc.ApplyTransition(high.ID, gated.ID, store.ActorHuman); err != nil {
		t.Errorf("condition should pass high-priority task: %v", err)
	}
}

func TestCreateTransition_RejectsMalformedConditions(t *testing.T) {
	svc, _ := testService(t)
	_, queues := seedProject(t, svc)

	_, err := svc.CreateTransition(queues[0].ID, queues[1].ID, store.ActorTypeBoth, json.RawMessage(`{nope`), false)
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("expected validation error for bad condition doc, got %v", err)
	}
}

func TestConditionCheck(t *testing.T) {
	task := &store.Task{Priority: 3, Title: "fix login", SessionKey: "sess-1"}

	cases := []struct {
		doc  string
		pass bool
	}{
		{`{"all":[{"field":"priority","op":"gte","value":3}]}`, true},
		{`{"all":[{"field":"priority","op":"gt","value":3}]}`, false},
		{`{"all":[{"field":"title","op":"contains","value":"login"}]}`, true},
		{`{"all":[{"field":"session_key","op":"set"}]}`, true},
		{`{"all":[{"field":"error","op":"unset"}]}`, true},
		{`{"any":[{"field":"priority","op":"eq","value":99},{"field":"title","op":"eq","value":"fix login"}]}`, true},
		{`{"any":[{"field":"priority","op":"eq","value":99},{"field":"title","op":"eq","value":"other"}]}`, false},
	}
	for _, c := range cases {
		cond, err := ParseConditions(json.RawMessage(c.doc))
		if err != nil {
			t.Fatalf("parse %s: %v", c.doc, err)
		}
		err = cond.Check(task)
		if c.pass && err != nil {
			t.Errorf("%s: expected pass, got %v", c.doc, err)
		}
		if !c.pass && fault.KindOf(err) != fault.KindConflict {
			t.Errorf("%s: expected conflict, got %v", c.doc, err)
		}
	}
}

func TestConditionCheck_UnknownField(t *testing.T) {
	cond, _ := ParseConditions(json.RawMessage(`{"all":[{"field":"made_up","op":"eq","value":"x"}]}`))
	err := cond.Check(&store.Task{})
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("unknown field should be a validation error, got %v", err)
	}
}

func TestNilConditionAlwaysPasses(t *testing.T) {
	var cond *Condition
	if err := cond.Check(&store.Task{}); err != nil {
		t.Errorf("nil condition should pass: %v", err)
	}
}
