package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/types"
	"github.com/cipherscout/ralph/internal/workspace"
)

var (
	resetKeepPlan          bool
	regenDiscardCompleted  bool
	cleanMemory            bool
	cleanForce             bool
	cleanDryRun            bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero out orchestrator state",
	Long: `Reset state.json to a fresh discovery-phase record. The plan is
reset too unless --keep-plan is given. Memory files are left in place; use
'ralph clean --memory' to remove them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, st, err := openWorkspace()
		if err != nil {
			return err
		}

		if _, err := st.InitializeState(cfg.CircuitBreakerFailures, cfg.CircuitBreakerStagnation, cfg.CostLimits.Total); err != nil {
			return err
		}
		if !resetKeepPlan {
			if _, err := st.InitializePlan(); err != nil {
				return err
			}
		}
		if err := st.ClearInjections(); err != nil {
			return err
		}
		display.New().Success("State reset to discovery phase.")
		return nil
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate-plan",
	Short: "Clear the plan and return to the planning phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, st, err := openWorkspace()
		if err != nil {
			return err
		}
		state, err := st.LoadState()
		if err != nil {
			return err
		}
		plan, err := st.LoadPlan()
		if err != nil {
			return err
		}

		fresh := types.NewPlan()
		if !regenDiscardCompleted {
			for i := range plan.Tasks {
				if plan.Tasks[i].Status == types.StatusComplete {
					kept := plan.Tasks[i]
					kept.Dependencies = nil // deps may no longer exist in the new plan
					if err := fresh.AddTask(kept); err != nil {
						return err
					}
				}
			}
		}
		if err := st.SavePlan(fresh); err != nil {
			return err
		}

		state.CurrentPhase = types.PhasePlanning
		if err := st.SaveState(state); err != nil {
			return err
		}
		display.New().Success(fmt.Sprintf("Plan regenerated (%d completed tasks preserved); back to planning.", len(fresh.Tasks)))
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete state files; with --memory, also the memory tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}

		targets := []string{
			workspace.StatePath(root),
			workspace.PlanPath(root),
			workspace.InjectionsPath(root),
			workspace.ActiveMemoryPath(root),
			filepath.Join(workspace.Path(root), "session_history"),
		}
		if cleanMemory {
			targets = append(targets, workspace.MemoryDir(root), workspace.ProgressPath(root))
		}

		disp := display.New()
		if cleanDryRun {
			for _, target := range targets {
				if _, err := os.Stat(target); err == nil {
					fmt.Println("would remove:", target)
				}
			}
			return nil
		}
		if !cleanForce {
			return withExitCode(ExitUsage, "clean is destructive; pass --force (or --dry-run to preview)")
		}
		for _, target := range targets {
			if err := os.RemoveAll(target); err != nil {
				return err
			}
		}
		disp.Success("State files removed. Config preserved.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetKeepPlan, "keep-plan", false, "preserve the implementation plan")
	regenerateCmd.Flags().BoolVar(&regenDiscardCompleted, "discard-completed", false, "drop completed tasks too")
	cleanCmd.Flags().BoolVar(&cleanMemory, "memory", false, "also wipe the memory tree and progress log")
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "actually delete")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "list what would be deleted")
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(cleanCmd)
}
