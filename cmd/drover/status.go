package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/task"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and session state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Re-render when checkpoints or the database change")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.State.Dir); os.IsNotExist(err) {
		fmt.Println("no drover state here; run 'drover init' to set up")
		return nil
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := renderStatus(cfg, store); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}
	return watchStatus(cfg, store)
}

// watchStatus re-renders on state-directory changes until interrupted.
func watchStatus(cfg *config.Config, store *task.Store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cfg.State.Dir); err != nil {
		return fmt.Errorf("watch state directory: %w", err)
	}
	// Checkpoints live one level down; watch the sessions dir when it
	// exists so checkpoint rewrites trigger a refresh.
	sessionsDir := filepath.Join(cfg.State.Dir, "sessions")
	if _, err := os.Stat(sessionsDir); err == nil {
		watcher.Add(sessionsDir)
	}

	// Coalesce bursts of writes into one redraw.
	var pending <-chan time.Time
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case <-pending:
			pending = nil
			fmt.Println()
			if err := renderStatus(cfg, store); err != nil {
				return err
			}
		}
	}
}

func renderStatus(cfg *config.Config, store *task.Store) error {
	ready, err := store.GetReadyTasks()
	if err != nil {
		return err
	}
	active, err := store.ActiveSessions()
	if err != nil {
		return err
	}
	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}

	fmt.Printf("ready tasks: %d\n", len(ready))
	for _, t := range ready {
		fmt.Printf("  %-10s p%d  %s\n", t.ID, t.Priority, t.Title)
	}

	if len(active) > 0 {
		fmt.Printf("active sessions: %d\n", len(active))
		for _, s := range active {
			line := fmt.Sprintf("  %s on %s (%s)", shortID(s.ID), s.TaskID, formatDuration(time.Since(s.StartedAt)))
			if cp, _ := checkpoint.NewManager(cfg.State.Dir).Load(s.TaskID); cp != nil {
				line += fmt.Sprintf("  phase=%s %d/%d subtasks", cp.Phase, len(cp.CompletedSubtaskIDs), len(cp.Subtasks))
			}
			color.Yellow(line)
		}
	}

	shown := 0
	for _, s := range sessions {
		if s.Status == task.SessionActive {
			continue
		}
		if shown == 0 {
			fmt.Println("recent sessions:")
		}
		line := fmt.Sprintf("  %s on %-10s %s (%s ago)", shortID(s.ID), s.TaskID, s.Status, formatDuration(time.Since(s.StartedAt)))
		switch s.Status {
		case task.SessionCompleted:
			color.Green(line)
		case task.SessionFailed:
			color.Red(line)
		default:
			fmt.Println(line)
		}
		shown++
		if shown >= 5 {
			break
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration renders a duration in compact human units.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		if m := int(d.Minutes()) % 60; m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}
