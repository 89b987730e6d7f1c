package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/llm"
	"github.com/cipherscout/ralph/internal/orchestrator"
	"github.com/cipherscout/ralph/internal/types"
)

var (
	runPhase         string
	runMaxIterations int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the iteration loop from the current phase",
	Long: `Run supervised iterations until the work completes, the circuit
breaker halts, or the iteration cap is reached.

Exit codes: 0 completion, 4 circuit-breaker halt, 5 iteration cap.

Ctrl-C cancels the in-flight executor call, persists state, and exits; the
next run resumes where this one stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(runPhase, runMaxIterations)
	},
}

// runLoop is shared by run and the single-phase commands
func runLoop(forcePhase string, maxIterations int) error {
	root, cfg, st, err := openWorkspace()
	if err != nil {
		return err
	}

	if forcePhase != "" {
		phase := types.Phase(forcePhase)
		if !phase.IsValid() {
			return withExitCode(ExitUsage, "invalid phase %q", forcePhase)
		}
		state, err := st.LoadState()
		if err != nil {
			return err
		}
		if state.CurrentPhase != phase {
			state.CurrentPhase = phase
			if err := st.SaveState(state); err != nil {
				return err
			}
		}
	}

	backend := llm.NewClaude("")
	if err := backend.CheckInstalled(); err != nil {
		return err
	}

	log := newLogger()
	defer func() { _ = log.Sync() }()

	disp := display.New()
	o := orchestrator.New(root, cfg, st, backend, disp, log)

	// SIGINT trips the cancellation token; the executor port returns
	// {error: cancelled}, state is persisted, and the loop exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := o.Run(ctx, maxIterations)
	if err != nil {
		return err
	}

	switch result.Kind {
	case orchestrator.HaltCompleted:
		disp.Success(fmt.Sprintf("Run complete after %d iteration(s).", result.Iterations))
	case orchestrator.HaltPaused:
		disp.Warning("Run paused. Use 'ralph resume' to continue.")
	case orchestrator.HaltCancelled:
		disp.Warning("Run cancelled. State persisted; 'ralph run' resumes.")
	}
	return runResultExit(result)
}

func init() {
	runCmd.Flags().StringVar(&runPhase, "phase", "", "force a starting phase (discovery, planning, building, validation)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "iteration cap for this run (default: config max_iterations)")
	rootCmd.AddCommand(runCmd)
}
