package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/orchestrator"
	"github.com/cipherscout/ralph/internal/store"
	"github.com/cipherscout/ralph/internal/workspace"
)

// Exit codes (normative)
const (
	ExitOK             = 0
	ExitError          = 1
	ExitUsage          = 2
	ExitNotInitialized = 3
	ExitBreakerHalt    = 4
	ExitIterationCap   = 5
)

var (
	// Version is set by goreleaser via ldflags
	Version         = "dev"
	flagProjectRoot string
)

// exitCodeError carries a specific exit code through cobra
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func withExitCode(code int, format string, args ...any) error {
	return &exitCodeError{code: code, msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Deterministic supervisory harness for an LLM coding agent",
	Long: `Ralph drives an external LLM coding agent through a structured
development lifecycle. The harness owns every workflow decision: which task
runs next, when an iteration stops, when the context window is discarded,
when to halt on failure, and how much money may be spent.

Phases:
  discovery  → planning → building ↔ validation

Core Commands:
  init                Create .ralph/ and seed state
  run                 Drive the iteration loop from the current phase
  status              Show phase, iteration, spend, circuit breaker
  tasks               Show the implementation plan
  pause / resume      Flip the paused flag
  inject "note"       Queue context for the next iteration
  handoff             Force a session boundary

Workflow:
  1. ralph init
  2. ralph run              # discovery -> planning -> building -> validation
  3. ralph status -v        # inspect progress at any point`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}

	var coded *exitCodeError
	switch {
	case errors.As(err, &coded):
		if coded.msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", coded.msg)
		}
		return coded.code
	case errors.Is(err, workspace.ErrNoWorkspace),
		errors.Is(err, store.ErrStateNotFound):
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitNotInitialized
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitError
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProjectRoot, "project-root", "", "project root (default: walk up from cwd)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("ralph version %s\n", Version))
}

// resolveRoot returns the project root from the flag, env, or directory walk
func resolveRoot() (string, error) {
	if flagProjectRoot != "" {
		if !workspace.Exists(flagProjectRoot) {
			return "", workspace.ErrNoWorkspace
		}
		return flagProjectRoot, nil
	}
	return workspace.Find()
}

// openWorkspace resolves the root and loads config plus store
func openWorkspace() (string, *config.Config, *store.Store, error) {
	root, err := resolveRoot()
	if err != nil {
		return "", nil, nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, nil, err
	}
	return root, cfg, store.New(root), nil
}

// newLogger builds the operational logger from RALPH_LOG_LEVEL
func newLogger() *zap.Logger {
	level := zapcore.WarnLevel
	if raw := os.Getenv("RALPH_LOG_LEVEL"); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// runResultExit maps a loop outcome to the normative exit codes
func runResultExit(result *orchestrator.RunResult) error {
	switch result.Kind {
	case orchestrator.HaltBreaker:
		return withExitCode(ExitBreakerHalt, "circuit breaker halted: %s", result.Reason)
	case orchestrator.HaltIterationCap:
		return withExitCode(ExitIterationCap, "%s", result.Reason)
	default:
		return nil
	}
}
