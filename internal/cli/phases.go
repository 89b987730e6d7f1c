package cli

import (
	"github.com/spf13/cobra"
)

// The phase commands share the run loop with a forced starting phase. The loop
// does not stop when the named phase ends; it continues into the following
// phases until a halt condition or the iteration cap.

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run the loop starting from the discovery phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop("discovery", runMaxIterations)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Run the loop starting from the planning phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop("planning", runMaxIterations)
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the loop starting from the building phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop("building", runMaxIterations)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the loop starting from the validation phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop("validation", runMaxIterations)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{discoverCmd, planCmd, buildCmd, validateCmd} {
		cmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "iteration cap for this run")
		rootCmd.AddCommand(cmd)
	}
}
