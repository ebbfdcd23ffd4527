package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var renderTraceCmd = &cobra.Command{
	Use:   "render-trace",
	Short: "Toggle render-pipeline tracing on the running gateway",
}

var renderTraceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Enable render tick spans",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return toggleCommand(cmd, "render-trace.start")
	},
}

var renderTraceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable render tick spans",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return toggleCommand(cmd, "render-trace.stop")
	},
}

func init() {
	renderTraceCmd.AddCommand(renderTraceStartCmd, renderTraceStopCmd)
	rootCmd.AddCommand(renderTraceCmd)
}

// toggleCommand sends one argument-less command to the live gateway and
// prints the raw result.
func toggleCommand(cmd *cobra.Command, cmdType string) error {
	c, err := dialGateway()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Request(cmd.Context(), cmdType, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result)
	return nil
}
