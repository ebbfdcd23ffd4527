package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmoyers/harness-sub014/internal/client"
	"github.com/jmoyers/harness-sub014/internal/config"
	"github.com/jmoyers/harness-sub014/internal/gateway"
	"github.com/jmoyers/harness-sub014/internal/paths"
	"github.com/jmoyers/harness-sub014/internal/record"
)

var (
	flagPort      int
	flagAuthToken string
	flagSession   string
	flagForce     bool
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start, stop, or inspect the workspace gateway",
}

var gatewayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway and serve until interrupted",
	Args:  exactArgs(0),
	RunE:  runGatewayStart,
}

var gatewayStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the workspace gateway, or one session with --session",
	Args:  exactArgs(0),
	RunE:  runGatewayStop,
}

var gatewayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the gateway record and its liveness",
	Args:  exactArgs(0),
	RunE:  runGatewayStatus,
}

func init() {
	gatewayStartCmd.Flags().IntVar(&flagPort, "port", 0,
		"bind port (0 auto-assigns; HARNESS_CONTROL_PLANE_PORT also applies)")
	gatewayStartCmd.Flags().StringVar(&flagAuthToken, "auth-token", "",
		"fixed auth token (default: randomly generated)")

	gatewayStopCmd.Flags().BoolVar(&flagForce, "force", false,
		"escalate to SIGKILL when the gateway ignores SIGTERM")
	gatewayStopCmd.Flags().StringVar(&flagSession, "session", "",
		"close one PTY session instead of stopping the gateway")

	gatewayStatusCmd.Flags().StringVar(&flagSession, "session", "",
		"also report one session's live status")

	gatewayCmd.AddCommand(gatewayStartCmd, gatewayStopCmd, gatewayStatusCmd)
	rootCmd.AddCommand(gatewayCmd)
}

func runGatewayStart(cmd *cobra.Command, _ []string) error {
	if flagDebug {
		_ = os.Setenv(config.EnvDebug, "1")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var received atomic.Value
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		received.Store(sig)
		cancel()
	}()

	err := gateway.Run(ctx, gateway.RunOptions{
		Workspace: flagWorkspace,
		Port:      flagPort,
		AuthToken: flagAuthToken,
	})

	// A live gateway already owning the workspace is success: report it.
	var exists *gateway.ErrRecordExists
	if errors.As(err, &exists) {
		printRecord(cmd, exists.Existing, true)
		return nil
	}
	if err != nil && ctx.Err() == nil {
		return err
	}

	switch received.Load() {
	case syscall.SIGINT:
		return &exitCodeError{code: exitSIGINT}
	case syscall.SIGTERM:
		return &exitCodeError{code: exitSIGTERM}
	}
	return nil
}

func runGatewayStop(cmd *cobra.Command, _ []string) error {
	if flagSession != "" {
		c, err := dialGateway()
		if err != nil {
			return err
		}
		defer c.Close()
		if _, err := c.Request(cmd.Context(), "pty.close",
			map[string]any{"sessionId": flagSession}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s closed\n", flagSession)
		return nil
	}

	err := gateway.Stop(flagWorkspace, flagForce)
	if errors.Is(err, gateway.ErrNotRunning) {
		fmt.Fprintln(cmd.OutOrStdout(), "gateway not running")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "gateway stopped")
	return nil
}

func runGatewayStatus(cmd *cobra.Command, _ []string) error {
	rec, alive, err := gateway.Status(flagWorkspace)
	if errors.Is(err, gateway.ErrNotRunning) {
		fmt.Fprintln(cmd.OutOrStdout(), "gateway: not running")
		return nil
	}
	if err != nil {
		return err
	}
	printRecord(cmd, rec, alive)

	if flagSession != "" && alive {
		c, err := dialGateway()
		if err != nil {
			return err
		}
		defer c.Close()
		result, err := c.Request(cmd.Context(), "session.status",
			map[string]any{"sessionId": flagSession})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", flagSession, result)
	}
	return nil
}

func printRecord(cmd *cobra.Command, rec gateway.Record, alive bool) {
	state := "stale"
	if alive {
		state = "running"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "gateway: %s port=%d pid=%d startedAt=%s\n",
		state, rec.Port, rec.PID, rec.StartedAt)
}

// dialGateway connects to the workspace's live gateway using its record.
func dialGateway() (*client.Client, error) {
	workspace, err := paths.ResolveWorkspace(flagWorkspace)
	if err != nil {
		return nil, err
	}
	rec, alive, err := gateway.Status(workspace)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, gateway.ErrNotRunning
	}
	return client.Dial(client.Options{
		Port:      rec.Port,
		AuthToken: rec.AuthToken,
		Scope:     localScope(workspace),
	})
}

// localScope is the scope every same-host client of a workspace gateway
// shares: a fixed local tenant, the invoking user, and the workspace
// directory name.
func localScope(workspace string) record.Scope {
	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	if username == "" {
		username = "local"
	}
	return record.Scope{
		TenantID:    "local",
		UserID:      username,
		WorkspaceID: filepath.Base(workspace),
	}
}
