// Package cmd implements the harness CLI.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitSIGINT  = 130
	exitSIGTERM = 143
)

// exitCodeError carries an explicit process exit code up to Execute.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

var (
	version = "dev"

	flagWorkspace string
	flagDebug     bool
)

var rootCmd = &cobra.Command{
	Use:     "harness",
	Short:   "Local-first development harness control plane",
	Long:    `harness runs a per-workspace control-plane gateway that multiplexes PTY-backed agent sessions, persists workspace state, and streams observed events to attached clients.`,
	Version: version,

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "",
		"workspace root (default: resolved from HARNESS_INVOKE_CWD or the current directory)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false,
		"enable debug logging")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitCodeError{code: exitUsage, err: err}
	})
}

// exactArgs is cobra.ExactArgs with a bad-arguments exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &exitCodeError{
				code: exitUsage,
				err:  fmt.Errorf("%q accepts %d arg(s), received %d", cmd.CommandPath(), n, len(args)),
			}
		}
		return nil
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			if ec.err != nil {
				fmt.Fprintln(os.Stderr, "Error:", ec.err)
			}
			return ec.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitError
	}
	return exitOK
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
