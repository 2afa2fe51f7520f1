// Package config provides Maestro's configuration model and loading.
// Configuration is resolved by viper from (in order of precedence)
// command-line flags, MAESTRO_-prefixed environment variables, a YAML
// config file, and built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Maestro configuration
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Leader     LeaderConfig     `mapstructure:"leader"`
	Judge      JudgeConfig      `mapstructure:"judge"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Branch     BranchConfig     `mapstructure:"branch"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Paths      PathsConfig      `mapstructure:"paths"`
}

// AgentConfig controls the external agent runner boundary
type AgentConfig struct {
	// Type selects the agent backend (e.g. "claude", "codex")
	Type string `mapstructure:"type"`
	// Model is the model name passed through to the runner
	Model string `mapstructure:"model"`
	// JudgeModel is the model used for judging; falls back to Model if empty
	JudgeModel string `mapstructure:"judge_model"`
	// TimeoutMinutes bounds a single agent invocation (0 = no timeout)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// Timeout returns the agent invocation timeout as a duration.
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// SchedulerConfig controls worker capacity
type SchedulerConfig struct {
	// MaxWorkers is the maximum number of concurrently running tasks
	MaxWorkers int `mapstructure:"max_workers"`
}

// LeaderConfig controls the leader execution loop
type LeaderConfig struct {
	// MaxIterations is a hard guard against infinite loops, not a designed
	// bound. Each claim/work/judge cycle consumes one iteration.
	MaxIterations int `mapstructure:"max_iterations"`
	// SerialChainTaskRetries bounds per-task continuation restarts inside a
	// serial chain
	SerialChainTaskRetries int `mapstructure:"serial_chain_task_retries"`
}

// JudgeConfig controls judge behavior
type JudgeConfig struct {
	// LogBudgetBytes is the maximum run-log size included in judge prompts
	LogBudgetBytes int `mapstructure:"log_budget_bytes"`
	// LogHeadBytes is how much of the log head is always preserved
	LogHeadBytes int `mapstructure:"log_head_bytes"`
	// MaxContinuations bounds judge-requested continuations per task
	MaxContinuations int `mapstructure:"max_continuations"`
}

// PlannerConfig controls planning and replanning behavior
type PlannerConfig struct {
	// MaxQualityRetries bounds quality-rejected generation attempts
	MaxQualityRetries int `mapstructure:"max_quality_retries"`
	// MaxConsecutiveJSONErrors bounds malformed-JSON retries; JSON errors do
	// not consume a quality retry
	MaxConsecutiveJSONErrors int `mapstructure:"max_consecutive_json_errors"`
	// QualityThreshold is the minimum acceptable overall score [0,100]
	QualityThreshold int `mapstructure:"quality_threshold"`
	// MaxReplanIterations bounds how many times one task lineage may be replanned
	MaxReplanIterations int `mapstructure:"max_replan_iterations"`
	// UseQualityJudge enables the second-pass quality judge
	UseQualityJudge bool `mapstructure:"use_quality_judge"`
}

// LoopConfig controls loop/livelock detection
type LoopConfig struct {
	// MaxStepIterations is the per-step iteration ceiling
	MaxStepIterations int `mapstructure:"max_step_iterations"`
	// SimilarityThreshold is the response-similarity cutoff in [0,1] above
	// which two responses are considered the same
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// ResponseWindow is how many response fingerprints to retain per step
	ResponseWindow int `mapstructure:"response_window"`
	// TransitionPatternLimit is the occurrence count at which a repeated
	// state transition is reported
	TransitionPatternLimit int `mapstructure:"transition_pattern_limit"`
}

// EscalationConfig holds per-target escalation limits
type EscalationConfig struct {
	UserLimit            int `mapstructure:"user_limit"`
	PlannerLimit         int `mapstructure:"planner_limit"`
	LogicValidatorLimit  int `mapstructure:"logic_validator_limit"`
	ExternalAdvisorLimit int `mapstructure:"external_advisor_limit"`
}

// BranchConfig controls branch naming conventions
type BranchConfig struct {
	// Prefix is the branch name prefix for task branches (default: "task")
	Prefix string `mapstructure:"prefix"`
	// Remote is the default push remote (default: "origin")
	Remote string `mapstructure:"remote"`
}

// CleanupConfig controls branch cleanup behavior
type CleanupConfig struct {
	// ExtraProtected lists additional branch names that are never deleted
	ExtraProtected []string `mapstructure:"extra_protected"`
	// DeleteRemote also deletes branches on the remote
	DeleteRemote bool `mapstructure:"delete_remote"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level"`
}

// PathsConfig controls filesystem layout
type PathsConfig struct {
	// CoordDir is the coordination directory holding tasks, runs, sessions
	// and locks. Relative paths are resolved against the repository root.
	CoordDir string `mapstructure:"coord_dir"`
}

// DefaultCoordDirName is the default coordination directory name.
const DefaultCoordDirName = ".maestro"

// SetDefaults registers all configuration defaults with viper.
// Call before reading the config file so defaults apply even without one.
func SetDefaults() {
	viper.SetDefault("agent.type", "claude")
	viper.SetDefault("agent.model", "sonnet")
	viper.SetDefault("agent.judge_model", "")
	viper.SetDefault("agent.timeout_minutes", 30)

	viper.SetDefault("scheduler.max_workers", 1)

	viper.SetDefault("leader.max_iterations", 1000)
	viper.SetDefault("leader.serial_chain_task_retries", 2)

	viper.SetDefault("judge.log_budget_bytes", 150*1024)
	viper.SetDefault("judge.log_head_bytes", 10*1024)
	viper.SetDefault("judge.max_continuations", 3)

	viper.SetDefault("planner.max_quality_retries", 5)
	viper.SetDefault("planner.max_consecutive_json_errors", 3)
	viper.SetDefault("planner.quality_threshold", 60)
	viper.SetDefault("planner.max_replan_iterations", 3)
	viper.SetDefault("planner.use_quality_judge", true)

	viper.SetDefault("loop.max_step_iterations", 10)
	viper.SetDefault("loop.similarity_threshold", 0.9)
	viper.SetDefault("loop.response_window", 5)
	viper.SetDefault("loop.transition_pattern_limit", 3)

	viper.SetDefault("escalation.user_limit", 10)
	viper.SetDefault("escalation.planner_limit", 3)
	viper.SetDefault("escalation.logic_validator_limit", 5)
	viper.SetDefault("escalation.external_advisor_limit", 5)

	viper.SetDefault("branch.prefix", "task")
	viper.SetDefault("branch.remote", "origin")

	viper.SetDefault("cleanup.extra_protected", []string{})
	viper.SetDefault("cleanup.delete_remote", false)

	viper.SetDefault("logging.level", "INFO")

	viper.SetDefault("paths.coord_dir", DefaultCoordDirName)
}

// Load unmarshals the resolved viper configuration into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config populated with the built-in defaults without
// touching the global viper state. Useful for tests and library callers.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Type:           "claude",
			Model:          "sonnet",
			TimeoutMinutes: 30,
		},
		Scheduler: SchedulerConfig{MaxWorkers: 1},
		Leader: LeaderConfig{
			MaxIterations:          1000,
			SerialChainTaskRetries: 2,
		},
		Judge: JudgeConfig{
			LogBudgetBytes:   150 * 1024,
			LogHeadBytes:     10 * 1024,
			MaxContinuations: 3,
		},
		Planner: PlannerConfig{
			MaxQualityRetries:        5,
			MaxConsecutiveJSONErrors: 3,
			QualityThreshold:         60,
			MaxReplanIterations:      3,
			UseQualityJudge:          true,
		},
		Loop: LoopConfig{
			MaxStepIterations:      10,
			SimilarityThreshold:    0.9,
			ResponseWindow:         5,
			TransitionPatternLimit: 3,
		},
		Escalation: EscalationConfig{
			UserLimit:            10,
			PlannerLimit:         3,
			LogicValidatorLimit:  5,
			ExternalAdvisorLimit: 5,
		},
		Branch:  BranchConfig{Prefix: "task", Remote: "origin"},
		Logging: LoggingConfig{Level: "INFO"},
		Paths:   PathsConfig{CoordDir: DefaultCoordDirName},
	}
}

// ConfigDir returns the directory where the user-level config file lives.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "maestro")
}

// CoordDir resolves the coordination directory against the given repo root.
func (c *Config) CoordDir(repoRoot string) string {
	dir := c.Paths.CoordDir
	if dir == "" {
		dir = DefaultCoordDirName
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(repoRoot, dir)
}

// EnvKeyReplacer maps nested config keys to environment variable names,
// e.g. MAESTRO_LEADER_MAX_ITERATIONS for leader.max_iterations.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}
