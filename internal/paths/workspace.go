// Package paths provides path resolution for the workspace state directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const stateDirName = ".state"

// InvokeCwdEnv overrides the invocation directory used to locate the
// workspace root.
const InvokeCwdEnv = "HARNESS_INVOKE_CWD"

// ResolveWorkspace resolves the workspace root directory. An explicit path
// wins; otherwise HARNESS_INVOKE_CWD, then the process working directory.
func ResolveWorkspace(path string) (string, error) {
	if path == "" {
		path = os.Getenv(InvokeCwdEnv)
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		path = cwd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving workspace path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// StateDir returns the workspace state directory, creating it if missing.
func StateDir(workspace string) (string, error) {
	dir := filepath.Join(workspace, stateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	return dir, nil
}

// GatewayRecordPath returns the path of the single-writer gateway record.
func GatewayRecordPath(workspace string) string {
	return filepath.Join(workspace, stateDirName, "gateway.json")
}

// GatewayLogPath returns the sibling log file of the gateway record.
func GatewayLogPath(workspace string) string {
	return filepath.Join(workspace, stateDirName, "gateway.log")
}

// StorePath returns the SQLite database path for persisted state.
func StorePath(workspace string) string {
	return filepath.Join(workspace, stateDirName, "harness.db")
}

// ConfigPath returns the JSONC config file path for the workspace.
func ConfigPath(workspace string) string {
	return filepath.Join(workspace, ".harness", "config.jsonc")
}
