package cli

import (
	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/llm"
	"github.com/cipherscout/ralph/internal/memory"
	"github.com/cipherscout/ralph/internal/orchestrator"
	"github.com/cipherscout/ralph/internal/types"
)

var (
	handoffReason  string
	handoffSummary string
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Force a session hand-off",
	Long: `End the current session now: capture a session memory, append the
session archive, clear pending injections, and generate a fresh session id.
The next run starts a new session with the archived context available.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, cfg, st, err := openWorkspace()
		if err != nil {
			return err
		}

		if handoffSummary != "" {
			state, err := st.LoadState()
			if err != nil {
				return err
			}
			mem := memory.New(root, cfg.Context)
			if err := mem.CapturePhase(types.PhaseMemory{
				Phase:       state.CurrentPhase,
				CompletedAt: types.Now(),
				Summary:     handoffSummary,
			}); err != nil {
				return err
			}
		}

		o := orchestrator.New(root, cfg, st, llm.NewClaude(""), display.New(), newLogger())
		reason := handoffReason
		if reason == "" {
			reason = "operator_request"
		}
		return o.HandoffNow(reason)
	},
}

func init() {
	handoffCmd.Flags().StringVar(&handoffReason, "reason", "", "hand-off reason recorded in the archive")
	handoffCmd.Flags().StringVar(&handoffSummary, "summary", "", "summary written to the current phase memory")
	rootCmd.AddCommand(handoffCmd)
}
