package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/types"
)

var (
	tasksPending bool
	tasksAll     bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show the implementation plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, st, err := openWorkspace()
		if err != nil {
			return err
		}
		plan, err := st.LoadPlan()
		if err != nil {
			return err
		}

		disp := display.New()
		if len(plan.Tasks) == 0 {
			disp.Info("Plan", "no tasks yet; run 'ralph plan' to create them")
			return nil
		}

		shown := 0
		for i := range plan.Tasks {
			t := &plan.Tasks[i]
			if tasksPending && t.Status != types.StatusPending {
				continue
			}
			shown++
			fmt.Printf("%-20s p%-3d %-12s %s\n", t.ID, t.Priority, t.Status, t.Description)
			if tasksAll {
				for _, dep := range t.Dependencies {
					fmt.Printf("    depends on: %s\n", dep)
				}
				for _, criterion := range t.VerificationCriteria {
					fmt.Printf("    verify: %s\n", criterion)
				}
				if t.RetryCount > 0 {
					fmt.Printf("    retries: %d\n", t.RetryCount)
				}
			}
		}
		if shown == 0 {
			disp.Info("Plan", "no matching tasks")
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the session archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, st, err := openWorkspace()
		if err != nil {
			return err
		}
		records, err := st.LoadSessionArchive(historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			display.New().Info("History", "no sessions archived yet")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  iter=%d  phase=%-10s  tasks=%d  tokens=%d  $%.4f  %s\n",
				rec.SessionID, rec.Iteration, rec.Phase, rec.TasksCompleted,
				rec.TokensUsed, rec.CostUSD, rec.HandoffReason)
		}
		return nil
	},
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksPending, "pending", false, "only pending tasks")
	tasksCmd.Flags().BoolVar(&tasksAll, "all", false, "show dependencies, criteria, retries")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "most recent N sessions")
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(historyCmd)
}
