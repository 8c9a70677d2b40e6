package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .drover.yaml in the current directory",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing .drover.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	const path = ".drover.yaml"
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	// Keys mirror the config schema; values are the defaults plus the
	// verification commands every project should fill in.
	starter := map[string]any{
		"state": map[string]any{
			"dir": ".drover",
		},
		"verify": map[string]any{
			"init_commands": []string{"go build ./..."},
			"post_commands": []string{"go build ./...", "go test ./..."},
		},
		"healer": map[string]any{
			"enabled":                     true,
			"max_invocations_per_session": 2,
			"max_invocations_per_subtask": 1,
		},
		"reflexion": map[string]any{
			"enabled":        true,
			"retention_days": 30,
		},
		"subagent": map[string]any{
			"backend": "cli",
			"model":   "claude-sonnet-4-5",
		},
		"parallel": map[string]any{
			"merge_strategy": "auto",
		},
	}

	data, err := yaml.Marshal(starter)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("wrote %s; edit verify commands to match your project\n", path)
	return nil
}
