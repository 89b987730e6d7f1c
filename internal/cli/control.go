package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherscout/ralph/internal/display"
	"github.com/cipherscout/ralph/internal/tools"
	"github.com/cipherscout/ralph/internal/types"
)

// Operator controls: pause, resume, skip, inject.

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the loop at the next iteration boundary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(true)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear the paused flag and re-arm the circuit breaker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(false)
	},
}

func setPaused(paused bool) error {
	_, _, st, err := openWorkspace()
	if err != nil {
		return err
	}
	state, err := st.LoadState()
	if err != nil {
		return err
	}
	state.Paused = paused
	if !paused && state.CircuitBreaker.State == types.BreakerOpen {
		// Resume probes the breaker: one good iteration closes it again.
		state.CircuitBreaker.State = types.BreakerHalfOpen
		state.CircuitBreaker.FailureCount = 0
		state.CircuitBreaker.StagnationCount = 0
	}
	if err := st.SaveState(state); err != nil {
		return err
	}
	if paused {
		display.New().Success("Paused. The loop stops before its next iteration.")
	} else {
		display.New().Success("Resumed.")
	}
	return nil
}

var skipReason string

var skipCmd = &cobra.Command{
	Use:   "skip <task_id>",
	Short: "Block a task so the scheduler moves past it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, st, err := openWorkspace()
		if err != nil {
			return err
		}
		reason := skipReason
		if reason == "" {
			reason = "skipped by operator"
		}
		surface := tools.New(st, nil)
		input, _ := json.Marshal(map[string]string{"task_id": args[0], "reason": reason})
		if _, err := surface.Dispatch(tools.MarkTaskBlocked, input); err != nil {
			return err
		}
		display.New().Success(fmt.Sprintf("Task %s blocked (%s).", args[0], reason))
		return nil
	},
}

var injectPriority int

var injectCmd = &cobra.Command{
	Use:   "inject <message>",
	Short: "Queue a context snippet for the next iteration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, st, err := openWorkspace()
		if err != nil {
			return err
		}
		if err := st.AddInjection(types.Injection{
			Timestamp: types.Now(),
			Content:   args[0],
			Source:    types.SourceUser,
			Priority:  injectPriority,
		}); err != nil {
			return err
		}
		display.New().Success("Injection queued for the next iteration.")
		return nil
	},
}

func init() {
	skipCmd.Flags().StringVar(&skipReason, "reason", "", "why the task is skipped")
	injectCmd.Flags().IntVarP(&injectPriority, "priority", "p", 0, "higher priority injections render first")
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(skipCmd)
	rootCmd.AddCommand(injectCmd)
}
