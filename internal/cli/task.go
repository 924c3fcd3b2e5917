package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heathdorn/overseer/internal/bus"
	"github.com/heathdorn/overseer/internal/store"
	"github.com/heathdorn/overseer/internal/workflow"
)

var (
	taskProject  string
	taskQueue    string
	taskDesc     string
	taskPriority int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create or manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, optionally filtered by queue",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show task details and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskMoveCmd = &cobra.Command{
	Use:   "move [id] [queue]",
	Short: "Move a task along a workflow transition",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskMove,
}

func init() {
	taskCmd.PersistentFlags().StringVarP(&taskProject, "project", "P", "", "Project id or name")
	taskAddCmd.Flags().StringVarP(&taskQueue, "queue", "q", "", "Target queue (defaults to the first queue)")
	taskAddCmd.Flags().StringVarP(&taskDesc, "desc", "d", "", "Task description")
	taskAddCmd.Flags().IntVarP(&taskPriority, "priority", "p", 0, "Priority 0-9, higher dispatches first")
	taskListCmd.Flags().StringVarP(&taskQueue, "queue", "q", "", "Filter by queue")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskMoveCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, taskProject)
	if err != nil {
		return err
	}

	var queueID string
	if taskQueue != "" {
		q, err := resolveQueue(s, p.ID, taskQueue)
		if err != nil {
			return err
		}
		queueID = q.ID
	} else {
		queues, err := s.ListQueues(p.ID)
		if err != nil {
			return err
		}
		if len(queues) == 0 {
			return fmt.Errorf("project has no queues. Run: overseer queue add")
		}
		queueID = queues[0].ID
	}

	title := strings.Join(args, " ")
	t, err := s.CreateTask(p.ID, queueID, title, taskDesc, taskPriority)
	if err != nil {
		return err
	}

	fmt.Printf("Created task %s: %s [p%d]\n", t.ID, t.Title, t.Priority)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, taskProject)
	if err != nil {
		return err
	}

	queueID := ""
	if taskQueue != "" {
		q, err := resolveQueue(s, p.ID, taskQueue)
		if err != nil {
			return err
		}
		queueID = q.ID
	}

	tasks, err := s.ListTasks(p.ID, queueID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	queues, err := s.ListQueues(p.ID)
	if err != nil {
		return err
	}
	queueNames := make(map[string]string, len(queues))
	for _, q := range queues {
		queueNames[q.ID] = q.Name
	}

	for _, t := range tasks {
		agent := ""
		if t.AssignedAgent != "" {
			agent = fmt.Sprintf(" [%s]", t.AssignedAgent)
		}
		errMark := ""
		if t.Error != "" {
			errMark = fmt.Sprintf(" ERROR: %q", t.Error)
		}
		fmt.Printf("%-36s %-16s p%d %s%s%s\n", t.ID, queueNames[t.QueueID], t.Priority, t.Title, agent, errMark)
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.GetTask(args[0])
	if err != nil {
		return err
	}

	queueName := t.QueueID
	if q, err := s.GetQueue(t.QueueID); err == nil {
		queueName = q.Name
	}

	fmt.Printf("Task %s\n", t.ID)
	fmt.Printf("  Title:    %s\n", t.Title)
	fmt.Printf("  Queue:    %s\n", queueName)
	fmt.Printf("  Priority: %d\n", t.Priority)
	if t.Description != "" {
		fmt.Printf("  Desc:     %s\n", t.Description)
	}
	if t.AssignedAgent != "" {
		fmt.Printf("  Agent:    %s\n", t.AssignedAgent)
	}
	if t.SessionKey != "" {
		fmt.Printf("  Session:  %s\n", t.SessionKey)
	}
	if t.Error != "" {
		fmt.Printf("  Error:    %s\n", t.Error)
	}
	fmt.Printf("  Created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("  Updated:  %s\n", t.UpdatedAt.Format("2006-01-02 15:04"))

	events, err := s.GetTaskEvents(t.ID)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println("\n  History:")
		for _, e := range events {
			agent := ""
			if e.Agent != "" {
				agent = fmt.Sprintf("[%s] ", e.Agent)
			}
			fmt.Printf("    %s %s%s: %s\n", e.Timestamp.Format("15:04"), agent, e.Type, e.Content)
		}
	}
	return nil
}

func runTaskMove(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.GetTask(args[0])
	if err != nil {
		return err
	}
	target, err := resolveQueue(s, t.ProjectID, args[1])
	if err != nil {
		return err
	}

	transitions, err := s.TransitionsFrom(t.QueueID, false)
	if err != nil {
		return err
	}
	var match *store.Transition
	for i := range transitions {
		if transitions[i].ToQueueID == target.ID && transitions[i].ActorType.Permits(store.ActorHuman) {
			match = &transitions[i]
			break
		}
	}
	if match == nil {
		return fmt.Errorf("no transition allows moving this task to %s", target.Name)
	}

	svc := workflow.New(s, bus.New(0))
	moved, err := svc.ApplyTransition(t.ID, match.ID, store.ActorHuman)
	if err != nil {
		return err
	}

	fmt.Printf("Moved %s to %s\n", moved.Title, target.Name)
	return nil
}
