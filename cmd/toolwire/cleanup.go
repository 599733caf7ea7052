package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bigsy/toolwire/internal/process"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Terminate providers orphaned by a crashed run",
	Long: `Every provider toolwire starts is recorded in ~/.config/toolwire/pids.json
until it has been stopped and reaped. If toolwire itself was killed, those
entries remain; cleanup terminates any that are still running the recorded
command and clears the file. Commands that start a provider do this too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := process.NewPIDTracker()
		if err != nil {
			return err
		}
		n := tracker.CleanupOrphans()
		fmt.Fprintf(cmd.OutOrStdout(), "Terminated %d orphaned provider process(es)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
