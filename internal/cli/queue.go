package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heathdorn/overseer/internal/store"
)

var (
	queueProject string
	queueOwner   string
	queueDesc    string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage a project's queues",
}

var queueAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a queue to the board",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queues in board order",
	RunE:  runQueueList,
}

var queueRmCmd = &cobra.Command{
	Use:   "rm [id|name]",
	Short: "Delete an empty queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRm,
}

var queueReorderCmd = &cobra.Command{
	Use:   "reorder [name] [name] ...",
	Short: "Reorder queues left to right",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runQueueReorder,
}

func init() {
	queueCmd.PersistentFlags().StringVarP(&queueProject, "project", "P", "", "Project id or name")
	queueAddCmd.Flags().StringVarP(&queueOwner, "owner", "o", "human", "Queue owner: human or assistant")
	queueAddCmd.Flags().StringVarP(&queueDesc, "desc", "d", "", "Queue description")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRmCmd)
	queueCmd.AddCommand(queueReorderCmd)
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, queueProject)
	if err != nil {
		return err
	}

	owner := store.OwnerType(queueOwner)
	if owner != store.OwnerHuman && owner != store.OwnerAssistant {
		return fmt.Errorf("invalid owner: %s", queueOwner)
	}

	name := strings.Join(args, " ")
	q, err := s.CreateQueue(p.ID, name, owner, queueDesc, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Added queue %s [%s] at position %d\n", q.Name, q.OwnerType, q.Position)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, queueProject)
	if err != nil {
		return err
	}
	queues, err := s.ListQueues(p.ID)
	if err != nil {
		return err
	}
	if len(queues) == 0 {
		fmt.Println("No queues found.")
		return nil
	}

	for _, q := range queues {
		count := ""
		tasks, err := s.ListTasks(p.ID, q.ID)
		if err == nil {
			count = fmt.Sprintf(" (%d)", len(tasks))
		}
		fmt.Printf("%d. %-20s %-10s%s\n", q.Position, q.Name, q.OwnerType, count)
	}
	return nil
}

func runQueueRm(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, queueProject)
	if err != nil {
		return err
	}
	q, err := resolveQueue(s, p.ID, args[0])
	if err != nil {
		return err
	}
	if err := s.DeleteQueue(q.ID); err != nil {
		return err
	}

	fmt.Printf("Deleted queue %s\n", q.Name)
	return nil
}

func runQueueReorder(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveProject(s, queueProject)
	if err != nil {
		return err
	}

	positions := make([]store.QueuePosition, 0, len(args))
	for i, ref := range args {
		q, err := resolveQueue(s, p.ID, ref)
		if err != nil {
			return err
		}
		positions = append(positions, store.QueuePosition{ID: q.ID, Position: i})
	}
	if err := s.ReorderQueues(p.ID, positions); err != nil {
		return err
	}

	fmt.Printf("Reordered %d queues\n", len(positions))
	return nil
}
