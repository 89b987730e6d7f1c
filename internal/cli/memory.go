package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/memory"
	"github.com/cipherscout/ralph/internal/workspace"
)

var (
	memoryShow    bool
	memoryStats   bool
	memoryCleanup bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or rotate the memory subsystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, cfg, st, err := openWorkspace()
		if err != nil {
			return err
		}
		mem := memory.New(root, cfg.Context)
		disp := display.New()

		switch {
		case memoryShow:
			state, err := st.LoadState()
			if err != nil {
				return err
			}
			plan, err := st.LoadPlan()
			if err != nil {
				return err
			}
			fmt.Println(mem.BuildActiveMemory(state, plan, true))
			return nil
		case memoryStats:
			stats, err := mem.CollectStats()
			if err != nil {
				return err
			}
			disp.RalphBox("MEMORY",
				fmt.Sprintf("Iterations: %d (cap %d)", stats.Iterations, cfg.Context.MaxIterationFiles),
				fmt.Sprintf("Phases: %d", stats.Phases),
				fmt.Sprintf("Sessions: %d (cap %d)", stats.Sessions, cfg.Context.MaxSessionFiles),
				fmt.Sprintf("Archived: %d (retention %dd)", stats.Archived, cfg.Context.ArchiveRetentionDays))
			return nil
		case memoryCleanup:
			if err := mem.Rotate(); err != nil {
				return err
			}
			disp.Success("Rotation pass complete.")
			return nil
		default:
			// Default to showing the last rendered active memory.
			data, err := os.ReadFile(workspace.ActiveMemoryPath(root))
			if err != nil {
				disp.Info("Memory", "no MEMORY.md yet; use --stats or run an iteration")
				return nil
			}
			fmt.Print(string(data))
			return nil
		}
	},
}

func init() {
	memoryCmd.Flags().BoolVar(&memoryShow, "show", false, "assemble and print the active memory")
	memoryCmd.Flags().BoolVar(&memoryStats, "stats", false, "per-type file counts")
	memoryCmd.Flags().BoolVar(&memoryCleanup, "cleanup", false, "run a rotation pass now")
	rootCmd.AddCommand(memoryCmd)
}
