package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/models"
)

var (
	addDescription string
	addPriority    int
	addDependsOn   []string
	addID          string
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "Longer task description given to the subagent")
	addCmd.Flags().IntVarP(&addPriority, "priority", "p", models.PriorityNormal, "Priority, 0 (critical) to 4 (backlog)")
	addCmd.Flags().StringSliceVar(&addDependsOn, "depends-on", nil, "Task IDs that must be done first")
	addCmd.Flags().StringVar(&addID, "id", "", "Explicit task ID (defaults to a generated one)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addPriority < models.PriorityCritical || addPriority > models.PriorityBacklog {
		return fmt.Errorf("priority %d out of range [%d, %d]", addPriority, models.PriorityCritical, models.PriorityBacklog)
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	id := addID
	if id == "" {
		id = uuid.New().String()[:8]
	}

	for _, dep := range addDependsOn {
		existing, err := store.Get(dep)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("dependency %q does not exist", dep)
		}
	}

	t := &models.Task{
		ID:          id,
		Title:       strings.Join(args, " "),
		Description: addDescription,
		Status:      models.TaskStatusOpen,
		Priority:    addPriority,
		DependsOn:   addDependsOn,
		CreatedAt:   time.Now(),
	}
	if err := store.Create(t); err != nil {
		return err
	}

	fmt.Printf("added task %s: %s\n", t.ID, t.Title)
	return nil
}
