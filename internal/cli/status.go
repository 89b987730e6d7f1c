package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/scheduler"
	"github.com/cipherscout/ralph/internal/types"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current phase, iteration, spend, and circuit breaker",
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

		disp := display.New()
		pending, complete, total := plan.Counts()

		lines := []string{
			fmt.Sprintf("Phase: %s", state.CurrentPhase),
			fmt.Sprintf("Iteration: %d", state.IterationCount),
			fmt.Sprintf("Session: %s", orEmpty(state.SessionID, "(none)")),
			fmt.Sprintf("Tasks: %d/%d complete (%d pending, %.0f%%)", complete, total, pending, plan.CompletionPercentage()),
			fmt.Sprintf("Spend: $%.4f total, $%.4f this session", state.TotalCostUSD, state.SessionCostUSD),
			fmt.Sprintf("Tokens: %d total, %d this session", state.TotalTokensUsed, state.SessionTokensUsed),
			fmt.Sprintf("Circuit breaker: %s (failures %d/%d, stagnation %d/%d)",
				state.CircuitBreaker.State,
				state.CircuitBreaker.FailureCount, state.CircuitBreaker.MaxConsecutiveFailures,
				state.CircuitBreaker.StagnationCount, state.CircuitBreaker.MaxStagnationIters),
		}
		if state.Paused {
			lines = append(lines, "Paused: yes ('ralph resume' to continue)")
		}
		if reason := state.CircuitBreaker.LastFailureReason; reason != "" {
			lines = append(lines, fmt.Sprintf("Last failure: %s", reason))
		}
		disp.RalphBox("STATUS", lines...)

		if statusVerbose {
			printTaskTable(disp, plan)
		} else if next := scheduler.NextTask(plan); next != nil {
			disp.Info("Next", fmt.Sprintf("%s: %s", next.ID, next.Description))
		}
		return nil
	},
}

func printTaskTable(disp *display.Display, plan *types.ImplementationPlan) {
	if len(plan.Tasks) == 0 {
		disp.Info("Plan", "no tasks yet")
		return
	}
	fmt.Println()
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		symbol := display.SymbolPending
		switch t.Status {
		case types.StatusComplete:
			symbol = display.SymbolSuccess
		case types.StatusBlocked:
			symbol = display.SymbolError
		case types.StatusInProgress:
			symbol = display.SymbolResume
		}
		fmt.Printf("  %s %-20s p%-3d %-12s %s\n", symbol, t.ID, t.Priority, t.Status, t.Description)
		if t.Status == types.StatusBlocked && len(t.BlockReasons) > 0 {
			fmt.Printf("      blocked: %s\n", t.BlockReasons[len(t.BlockReasons)-1])
		}
	}
}

func orEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "show the full task table")
	rootCmd.AddCommand(statusCmd)
}
