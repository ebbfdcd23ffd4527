package cmd

import (
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Toggle CPU profiling on the running gateway",
}

var profileStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Begin a CPU profile in the workspace state dir",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return toggleCommand(cmd, "profile.start")
	},
}

var profileStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running CPU profile",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return toggleCommand(cmd, "profile.stop")
	},
}

func init() {
	profileCmd.AddCommand(profileStartCmd, profileStopCmd)
	rootCmd.AddCommand(profileCmd)
}
