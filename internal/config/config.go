// Package config handles configuration loading and management for drover.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for drover.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	State        StateConfig        `mapstructure:"state"`
	Verify       VerifyConfig       `mapstructure:"verify"`
	Healer       HealerConfig       `mapstructure:"healer"`
	Reflexion    ReflexionConfig    `mapstructure:"reflexion"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Subagent     SubagentConfig     `mapstructure:"subagent"`
	Parallel     ParallelConfig     `mapstructure:"parallel"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// StateConfig holds durable-state locations.
type StateConfig struct {
	// Dir is the directory holding the task database, checkpoints,
	// and the reflection store. Defaults to .drover in the repo root.
	Dir string `mapstructure:"dir"`
}

// VerifyConfig holds the shell commands used for verification.
type VerifyConfig struct {
	// InitCommands run during orientation before any work starts.
	InitCommands []string `mapstructure:"init_commands"`
	// PostCommands run after all subtasks complete, before commit.
	PostCommands []string `mapstructure:"post_commands"`
}

// HealerConfig controls the recovery subsystem.
type HealerConfig struct {
	// Enabled toggles the healer globally.
	Enabled bool `mapstructure:"enabled"`
	// MaxInvocationsPerSession bounds healer calls across a session.
	MaxInvocationsPerSession int `mapstructure:"max_invocations_per_session"`
	// MaxInvocationsPerSubtask bounds healer calls for a single subtask.
	MaxInvocationsPerSubtask int `mapstructure:"max_invocations_per_subtask"`
	// Scenarios toggles individual trigger scenarios.
	Scenarios HealerScenarios `mapstructure:"scenarios"`
	// Mode selects how aggressively the healer acts ("conservative" or "aggressive").
	Mode string `mapstructure:"mode"`
	// MaxTurns bounds the healing subagent invocation.
	MaxTurns int `mapstructure:"max_turns"`
	// StuckThresholdHours is how long a subtask may run without progress
	// before it is considered stuck.
	StuckThresholdHours float64 `mapstructure:"stuck_threshold_hours"`
	// StuckMinConsecutiveFailures is the failure streak required before
	// the stuck scenario can trigger.
	StuckMinConsecutiveFailures int `mapstructure:"stuck_min_consecutive_failures"`
}

// HealerScenarios toggles the individual healer trigger scenarios.
type HealerScenarios struct {
	OnInitFailure         bool `mapstructure:"on_init_failure"`
	OnSubtaskFailure      bool `mapstructure:"on_subtask_failure"`
	OnVerificationFailure bool `mapstructure:"on_verification_failure"`
	OnRuntimeError        bool `mapstructure:"on_runtime_error"`
	OnStuckSubtask        bool `mapstructure:"on_stuck_subtask"`
}

// ReflexionConfig controls reflection generation on subtask failure.
type ReflexionConfig struct {
	// Enabled toggles reflection generation.
	Enabled bool `mapstructure:"enabled"`
	// MaxReflectionsPerRetry caps how many reflections are injected into
	// a retry prompt.
	MaxReflectionsPerRetry int `mapstructure:"max_reflections_per_retry"`
	// GenerationTimeout bounds the reflection subagent call before
	// falling back to the heuristic generator.
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	// RetentionDays is how long persisted reflections are kept.
	RetentionDays int `mapstructure:"retention_days"`
}

// OrchestratorConfig holds driver loop settings.
type OrchestratorConfig struct {
	// MaxConsecutiveFailures is the retry budget per subtask.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	// MaxSubtasks caps the decomposition size.
	MaxSubtasks int `mapstructure:"max_subtasks"`
	// MaxTurns bounds each subagent invocation.
	MaxTurns int `mapstructure:"max_turns"`
	// CommitPrefix is prepended to generated commit messages.
	CommitPrefix string `mapstructure:"commit_prefix"`
}

// SubagentConfig selects and configures the coding subagent backend.
type SubagentConfig struct {
	// Backend names the preferred backend: "cli", "api", or "bedrock".
	Backend string `mapstructure:"backend"`
	// Model is the model identifier passed to the backend.
	Model string `mapstructure:"model"`
	// CLIBinary is the path to the CLI backend's binary.
	CLIBinary string `mapstructure:"cli_binary"`
	// AWSRegion overrides the region for the bedrock backend.
	AWSRegion string `mapstructure:"aws_region"`
}

// ParallelConfig holds parallel-runner settings.
type ParallelConfig struct {
	// MaxAgents is the number of concurrent driver instances. Zero means
	// derive a safe value from available memory.
	MaxAgents int `mapstructure:"max_agents"`
	// MergeStrategy is one of "auto", "direct", "queue", "pr".
	MergeStrategy string `mapstructure:"merge_strategy"`
	// WorktreeBaseDir is where per-agent worktrees are created.
	// Defaults to ~/.cache/drover/worktrees.
	WorktreeBaseDir string `mapstructure:"worktree_base_dir"`
	// PerAgentMemoryMB is the memory budget assumed per agent.
	PerAgentMemoryMB int `mapstructure:"per_agent_memory_mb"`
	// ReserveMemoryMB is memory held back for the rest of the system.
	ReserveMemoryMB int `mapstructure:"reserve_memory_mb"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (DROVER_*, ANTHROPIC_API_KEY)
// 2. Project config (.drover.yaml in current directory or parent)
// 3. User config (~/.config/drover/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DROVER")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("state.dir", ".drover")

	v.SetDefault("verify.init_commands", []string{})
	v.SetDefault("verify.post_commands", []string{})

	v.SetDefault("healer.enabled", true)
	v.SetDefault("healer.max_invocations_per_session", 2)
	v.SetDefault("healer.max_invocations_per_subtask", 1)
	v.SetDefault("healer.scenarios.on_init_failure", true)
	v.SetDefault("healer.scenarios.on_subtask_failure", true)
	v.SetDefault("healer.scenarios.on_verification_failure", true)
	v.SetDefault("healer.scenarios.on_runtime_error", false)
	v.SetDefault("healer.scenarios.on_stuck_subtask", false)
	v.SetDefault("healer.mode", "conservative")
	v.SetDefault("healer.max_turns", 15)
	v.SetDefault("healer.stuck_threshold_hours", 2.0)
	v.SetDefault("healer.stuck_min_consecutive_failures", 3)

	v.SetDefault("reflexion.enabled", true)
	v.SetDefault("reflexion.max_reflections_per_retry", 3)
	v.SetDefault("reflexion.generation_timeout", "30s")
	v.SetDefault("reflexion.retention_days", 30)

	v.SetDefault("orchestrator.max_consecutive_failures", 3)
	v.SetDefault("orchestrator.max_subtasks", 10)
	v.SetDefault("orchestrator.max_turns", 30)
	v.SetDefault("orchestrator.commit_prefix", "drover:")

	v.SetDefault("subagent.backend", "cli")
	v.SetDefault("subagent.model", "claude-sonnet-4-5")
	v.SetDefault("subagent.cli_binary", "claude")
	v.SetDefault("subagent.aws_region", "")

	v.SetDefault("parallel.max_agents", 0)
	v.SetDefault("parallel.merge_strategy", "auto")
	v.SetDefault("parallel.worktree_base_dir", "")
	v.SetDefault("parallel.per_agent_memory_mb", 1024)
	v.SetDefault("parallel.reserve_memory_mb", 2048)
}

// getUserConfigDir returns the XDG config directory for drover.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "drover")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "drover")
	}
	return filepath.Join(home, ".config", "drover")
}

// findProjectConfig searches for .drover.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".drover.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		State: StateConfig{Dir: ".drover"},
		Healer: HealerConfig{
			Enabled:                  true,
			MaxInvocationsPerSession: 2,
			MaxInvocationsPerSubtask: 1,
			Scenarios: HealerScenarios{
				OnInitFailure:         true,
				OnSubtaskFailure:      true,
				OnVerificationFailure: true,
			},
			Mode:                        "conservative",
			MaxTurns:                    15,
			StuckThresholdHours:         2.0,
			StuckMinConsecutiveFailures: 3,
		},
		Reflexion: ReflexionConfig{
			Enabled:                true,
			MaxReflectionsPerRetry: 3,
			GenerationTimeout:      30 * time.Second,
			RetentionDays:          30,
		},
		Orchestrator: OrchestratorConfig{
			MaxConsecutiveFailures: 3,
			MaxSubtasks:            10,
			MaxTurns:               30,
			CommitPrefix:           "drover:",
		},
		Subagent: SubagentConfig{
			Backend:   "cli",
			Model:     "claude-sonnet-4-5",
			CLIBinary: "claude",
		},
		Parallel: ParallelConfig{
			MergeStrategy:    "auto",
			PerAgentMemoryMB: 1024,
			ReserveMemoryMB:  2048,
		},
	}
}
