package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/config"
	"github.com/cipherscout/ralph/internal/store"
	"github.com/cipherscout/ralph/internal/workspace"
)

var initForce bool

const defaultConfigYAML = `# Ralph configuration. This file is read-only input for the harness.
max_iterations: 100
primary_model: claude-sonnet-4-5
planning_model: claude-opus-4-1

cost_limits:
  per_iteration: 0   # USD, 0 = unlimited
  per_session: 0
  total: 0

circuit_breaker_failures: 3
circuit_breaker_stagnation: 5

context:
  max_active_memory_chars: 8000
  max_iteration_files: 20
  max_session_files: 10
  archive_retention_days: 30

safety:
  git_read_only: true
  blocked_commands: []
  # allowed_git_operations: [status, log, diff, show, ls-files, blame, branch]

verification:
  timeout_seconds: 300
  commands: {}
  # commands:
  #   tests: go test ./...
  #   lint: golangci-lint run
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .ralph/ and seed state",
	Long: `Initialize a Ralph workspace in the current directory (or
--project-root). Creates .ralph/ with state.json, an empty implementation
plan, and a commented config.yaml. Refuses to overwrite an existing
workspace unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := flagProjectRoot
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			root = cwd
		}

		if workspace.Exists(root) && !initForce {
			return withExitCode(ExitUsage, "%v", workspace.ErrWorkspaceExists)
		}

		st := store.New(root)
		if err := st.EnsureRalphDir(); err != nil {
			return err
		}

		cfg := config.DefaultConfig()
		if _, err := os.Stat(workspace.ConfigPath(root)); os.IsNotExist(err) || initForce {
			if err := os.WriteFile(workspace.ConfigPath(root), []byte(defaultConfigYAML), 0644); err != nil {
				return err
			}
		}
		if _, err := st.InitializeState(cfg.CircuitBreakerFailures, cfg.CircuitBreakerStagnation, cfg.CostLimits.Total); err != nil {
			return err
		}
		if _, err := st.InitializePlan(); err != nil {
			return err
		}

		fmt.Println("Initialized Ralph workspace in", workspace.Path(root))
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  1. Review .ralph/config.yaml")
		fmt.Println("  2. Run 'ralph run' to start discovery")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing workspace")
	rootCmd.AddCommand(initCmd)
}
