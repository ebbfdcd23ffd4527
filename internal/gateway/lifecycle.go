package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/jmoyers/harness-sub014/internal/config"
	"github.com/jmoyers/harness-sub014/internal/infrastructure/sqlite"
	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/paths"
	"github.com/jmoyers/harness-sub014/internal/tracing"
)

// ErrNotRunning reports that no gateway owns the workspace.
var ErrNotRunning = errors.New("gateway not running")

// RunOptions configures an in-process gateway run.
type RunOptions struct {
	// Workspace is the workspace root; empty resolves from the environment.
	Workspace string
	// Port overrides the configured bind port when non-zero.
	Port int
	// AuthToken fixes the auth token; empty generates a random one.
	AuthToken string
}

// Run starts a gateway for the workspace and serves until ctx is cancelled.
// Exactly one gateway owns a workspace at a time; a second Run fails with
// ErrRecordExists carrying the live record.
func Run(ctx context.Context, opts RunOptions) error {
	workspace, err := paths.ResolveWorkspace(opts.Workspace)
	if err != nil {
		return err
	}
	stateDir, err := paths.StateDir(workspace)
	if err != nil {
		return err
	}

	closeLog, err := log.Init(paths.GatewayLogPath(workspace))
	if err != nil {
		return err
	}
	defer closeLog()

	loader := config.NewLoader(paths.ConfigPath(workspace))
	cfg := loader.Load()
	if opts.Port != 0 {
		cfg.Gateway.Port = opts.Port
	}
	if cfg.Debug {
		log.SetMinLevel(log.LevelDebug)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	store, err := sqlite.Open(paths.StorePath(workspace))
	if err != nil {
		return err
	}
	defer store.Close()

	token := opts.AuthToken
	if token == "" {
		token, err = newAuthToken()
		if err != nil {
			return err
		}
	}

	srv, err := NewServer(cfg, store, token, provider.Tracer())
	if err != nil {
		return err
	}
	srv.SetProfileDir(stateDir)
	port, err := srv.Listen()
	if err != nil {
		return err
	}

	recordPath := paths.GatewayRecordPath(workspace)
	rec := Record{Port: port, AuthToken: token, PID: os.Getpid(), StartedAt: srv.StartedAt()}
	if err := WriteRecordExclusive(recordPath, rec); err != nil {
		srv.shutdown()
		return err
	}
	defer RemoveRecord(recordPath, rec.PID)

	watcher, err := config.NewWatcher(loader, 0)
	if err == nil {
		if reloads, werr := watcher.Start(); werr == nil {
			defer func() { _ = watcher.Stop() }()
			log.SafeGo("config-reload", func() { applyReloads(ctx, reloads) })
		}
	}

	log.Info(log.CatGateway, "gateway listening",
		"workspace", workspace, "port", port, "pid", rec.PID)
	return srv.Serve(ctx)
}

// applyReloads consumes config reloads. Only settings that are safe to flip
// at runtime apply live; sizing knobs need a restart and log a notice.
func applyReloads(ctx context.Context, reloads <-chan config.Config) {
	for {
		select {
		case cfg, ok := <-reloads:
			if !ok {
				return
			}
			if cfg.Debug {
				log.SetMinLevel(log.LevelDebug)
			} else {
				log.SetMinLevel(log.LevelInfo)
			}
			log.Info(log.CatConfig, "config reloaded; sizing changes apply on restart")
		case <-ctx.Done():
			return
		}
	}
}

func newAuthToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating auth token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Status reads the workspace's gateway record and probes its liveness.
func Status(workspace string) (Record, bool, error) {
	resolved, err := paths.ResolveWorkspace(workspace)
	if err != nil {
		return Record{}, false, err
	}
	rec, err := ReadRecord(paths.GatewayRecordPath(resolved))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, ErrNotRunning
		}
		return Record{}, false, err
	}
	return rec, RecordAlive(rec), nil
}

// stopGrace is how long Stop waits for a SIGTERM'd gateway before giving up
// (or escalating to SIGKILL with force).
const stopGrace = 5 * time.Second

// Stop terminates the workspace's gateway: SIGTERM, a grace period, then
// SIGKILL when force is set. A stale record is cleaned up and reported as
// ErrNotRunning.
func Stop(workspace string, force bool) error {
	resolved, err := paths.ResolveWorkspace(workspace)
	if err != nil {
		return err
	}
	recordPath := paths.GatewayRecordPath(resolved)
	rec, err := ReadRecord(recordPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotRunning
		}
		return err
	}
	if !RecordAlive(rec) {
		RemoveRecord(recordPath, rec.PID)
		return ErrNotRunning
	}

	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return fmt.Errorf("finding gateway process %d: %w", rec.PID, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling gateway process %d: %w", rec.PID, err)
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !pidAlive(rec.PID) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !force {
		return fmt.Errorf("gateway pid %d did not exit within %s", rec.PID, stopGrace)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("killing gateway process %d: %w", rec.PID, err)
	}
	RemoveRecord(recordPath, rec.PID)
	return nil
}
