package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/cipherscout/ralph/internal/workspace"
)

// Config represents the ralph configuration (.ralph/config.yaml). The file is
// read-only input; the core never writes it back.
type Config struct {
	MaxIterations int    `mapstructure:"max_iterations"`
	PrimaryModel  string `mapstructure:"primary_model"`
	PlanningModel string `mapstructure:"planning_model"`

	CostLimits               CostLimitsConfig       `mapstructure:"cost_limits"`
	CircuitBreakerFailures   int                    `mapstructure:"circuit_breaker_failures"`
	CircuitBreakerStagnation int                    `mapstructure:"circuit_breaker_stagnation"`
	Context                  ContextConfig          `mapstructure:"context"`
	Safety                   SafetyConfig           `mapstructure:"safety"`
	Phases                   map[string]PhaseConfig `mapstructure:"phases"`
	Verification             VerificationConfig     `mapstructure:"verification"`
}

// CostLimitsConfig holds USD budgets; zero means unlimited
type CostLimitsConfig struct {
	PerIteration float64 `mapstructure:"per_iteration"`
	PerSession   float64 `mapstructure:"per_session"`
	Total        float64 `mapstructure:"total"`
}

// ContextConfig bounds the memory subsystem
type ContextConfig struct {
	MaxActiveMemoryChars int `mapstructure:"max_active_memory_chars"`
	MaxIterationFiles    int `mapstructure:"max_iteration_files"`
	MaxSessionFiles      int `mapstructure:"max_session_files"`
	ArchiveRetentionDays int `mapstructure:"archive_retention_days"`
}

// SafetyConfig feeds the tool-call validator
type SafetyConfig struct {
	BlockedCommands      []string `mapstructure:"blocked_commands"`
	GitReadOnly          bool     `mapstructure:"git_read_only"`
	AllowedGitOperations []string `mapstructure:"allowed_git_operations"`
}

// PhaseConfig overrides per-phase behavior
type PhaseConfig struct {
	AllowedTools         []string `mapstructure:"allowed_tools"`
	MaxTurns             int      `mapstructure:"max_turns"`
	RequireHumanApproval bool     `mapstructure:"require_human_approval"`
}

// VerificationConfig lists the backpressure commands run after building
// iterations, one at a time.
type VerificationConfig struct {
	Commands       map[string]string `mapstructure:"commands"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-command timeout
func (v VerificationConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// Load reads the config from the project root
func Load(projectRoot string) (*Config, error) {
	configPath := workspace.ConfigPath(projectRoot)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: 100,
		PrimaryModel:  "claude-sonnet-4-5",
		PlanningModel: "claude-opus-4-1",
		CostLimits: CostLimitsConfig{
			PerIteration: 0,
			PerSession:   0,
			Total:        0,
		},
		CircuitBreakerFailures:   3,
		CircuitBreakerStagnation: 5,
		Context: ContextConfig{
			MaxActiveMemoryChars: 8000,
			MaxIterationFiles:    20,
			MaxSessionFiles:      10,
			ArchiveRetentionDays: 30,
		},
		Safety: SafetyConfig{
			BlockedCommands:      []string{},
			GitReadOnly:          true,
			AllowedGitOperations: []string{"status", "log", "diff", "show", "ls-files", "blame", "branch"},
		},
		Phases: map[string]PhaseConfig{},
		Verification: VerificationConfig{
			Commands:       map[string]string{},
			TimeoutSeconds: 300,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = defaults.PrimaryModel
	}
	if cfg.PlanningModel == "" {
		cfg.PlanningModel = defaults.PlanningModel
	}
	if cfg.CircuitBreakerFailures == 0 {
		cfg.CircuitBreakerFailures = defaults.CircuitBreakerFailures
	}
	if cfg.CircuitBreakerStagnation == 0 {
		cfg.CircuitBreakerStagnation = defaults.CircuitBreakerStagnation
	}
	if cfg.Context.MaxActiveMemoryChars == 0 {
		cfg.Context.MaxActiveMemoryChars = defaults.Context.MaxActiveMemoryChars
	}
	if cfg.Context.MaxIterationFiles == 0 {
		cfg.Context.MaxIterationFiles = defaults.Context.MaxIterationFiles
	}
	if cfg.Context.MaxSessionFiles == 0 {
		cfg.Context.MaxSessionFiles = defaults.Context.MaxSessionFiles
	}
	if cfg.Context.ArchiveRetentionDays == 0 {
		cfg.Context.ArchiveRetentionDays = defaults.Context.ArchiveRetentionDays
	}
	if len(cfg.Safety.AllowedGitOperations) == 0 {
		cfg.Safety.AllowedGitOperations = defaults.Safety.AllowedGitOperations
	}
	if cfg.Phases == nil {
		cfg.Phases = map[string]PhaseConfig{}
	}
	if cfg.Verification.Commands == nil {
		cfg.Verification.Commands = map[string]string{}
	}
	if cfg.Verification.TimeoutSeconds == 0 {
		cfg.Verification.TimeoutSeconds = defaults.Verification.TimeoutSeconds
	}
}

// PhaseFor returns the per-phase overrides, zero-valued if unset
func (c *Config) PhaseFor(phase string) PhaseConfig {
	if c.Phases == nil {
		return PhaseConfig{}
	}
	return c.Phases[phase]
}

// ModelFor returns the model for a phase: discovery and planning use the
// planning model, building and validation the primary one.
func (c *Config) ModelFor(phase string) string {
	if phase == "discovery" || phase == "planning" {
		return c.PlanningModel
	}
	return c.PrimaryModel
}
