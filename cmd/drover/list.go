package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/models"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the queue",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by status (open, in_progress, blocked, done, failed)")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var filter *models.TaskStatus
	if listStatus != "" {
		status := models.TaskStatus(listStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter = &status
	}

	tasks, err := store.List(filter)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}

	for _, t := range tasks {
		line := fmt.Sprintf("%-10s p%d  %-12s %s", t.ID, t.Priority, t.Status, t.Title)
		if len(t.DependsOn) > 0 {
			line += fmt.Sprintf("  (after %s)", strings.Join(t.DependsOn, ", "))
		}
		switch t.Status {
		case models.TaskStatusDone:
			color.Green(line)
		case models.TaskStatusFailed:
			color.Red(line)
		case models.TaskStatusInProgress:
			color.Yellow(line)
		default:
			fmt.Println(line)
		}
	}
	return nil
}
