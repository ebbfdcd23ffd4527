package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/jmoyers/harness-sub014/internal/config"
	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/record"
)

// StartOptions describes a session spawn. Args[0] is the binary; the rest
// are its arguments.
type StartOptions struct {
	SessionID  string
	Scope      record.Scope
	Args       []string
	Env        map[string]string
	Cwd        string
	Cols       uint16
	Rows       uint16
	WorktreeID *string
	// FG/BG are theme colors handed down to the child via environment.
	FG *string
	BG *string
}

// Supervisor owns every live PTY session in the process.
type Supervisor struct {
	cfg  config.PTYConfig
	sink Sink

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSupervisor creates a supervisor sized by cfg, reporting to sink.
func NewSupervisor(cfg config.PTYConfig, sink Sink) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		sink:     sink,
		sessions: make(map[string]*Session),
	}
}

// Start spawns a child under a new PTY. Fails with ErrSessionExists when
// the id is already live and ErrStartFailed (wrapping the exec error) when
// the spawn itself fails; a failed spawn leaves no session behind.
func (s *Supervisor) Start(opts StartOptions) (*Session, error) {
	if len(opts.Args) == 0 {
		return nil, fmt.Errorf("%w: empty launch command", ErrStartFailed)
	}

	s.mu.Lock()
	if existing, ok := s.sessions[opts.SessionID]; ok && existing.View().Live {
		s.mu.Unlock()
		return nil, ErrSessionExists
	}
	s.mu.Unlock()

	cmd := exec.Command(opts.Args[0], opts.Args[1:]...) //nolint:gosec // G204: launch command comes from an authenticated client
	cmd.Dir = opts.Cwd
	cmd.Env = buildEnv(opts)

	size := &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	sess := &Session{
		id:          opts.SessionID,
		scope:       opts.Scope,
		worktreeID:  opts.WorktreeID,
		launch:      append([]string(nil), opts.Args...),
		cmd:         cmd,
		ptmx:        ptmx,
		ring:        newRingBuffer(s.cfg.RingBufferBytes),
		sink:        s.sink,
		queue:       make(chan []byte, 64),
		queueBudget: s.cfg.RespondQueueBytes,
		done:        make(chan struct{}),
		attached:    make(map[string]struct{}),
		eventSubs:   make(map[string]struct{}),
		status:      record.StatusModel{Phase: record.PhaseIdle},
		runtime:     record.RuntimeRunning,
		startedAt:   nowISO(),
		live:        true,
	}

	s.mu.Lock()
	s.sessions[opts.SessionID] = sess
	s.mu.Unlock()

	log.SafeGo("pty-output-"+opts.SessionID, sess.pumpOutput)
	log.SafeGo("pty-writes-"+opts.SessionID, sess.pumpWrites)
	log.SafeGo("pty-wait-"+opts.SessionID, sess.waitExit)

	log.Info(log.CatPTY, "session started", "session", opts.SessionID,
		"pid", cmd.Process.Pid, "cmd", opts.Args[0])
	return sess, nil
}

func buildEnv(opts StartOptions) []string {
	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	if opts.FG != nil {
		env = append(env, "HARNESS_THEME_FG="+*opts.FG)
	}
	if opts.BG != nil {
		env = append(env, "HARNESS_THEME_BG="+*opts.BG)
	}
	return env
}

// Get returns the session with id visible from scope. Sessions in other
// scopes are indistinguishable from missing ones.
func (s *Supervisor) Get(scope record.Scope, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.scope != scope {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List snapshots every session in scope.
func (s *Supervisor) List(scope record.Scope) []record.Session {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.scope == scope {
			sessions = append(sessions, sess)
		}
	}
	s.mu.Unlock()

	views := make([]record.Session, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sess.View())
	}
	return views
}

// Remove closes a session and forgets it.
func (s *Supervisor) Remove(scope record.Scope, id string) error {
	sess, err := s.Get(scope, id)
	if err != nil {
		return err
	}
	sess.Close()
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// ReleaseClient clears a disconnected client out of every session: its
// attachments, event subscriptions, and any controller claims it held.
func (s *Supervisor) ReleaseClient(clientID string) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Detach(clientID)
		sess.UnsubscribeEvents(clientID)
		sess.ReleaseController(clientID)
	}
}

// CloseAll gracefully terminates every live session, used at gateway
// shutdown.
func (s *Supervisor) CloseAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Close()
		}(sess)
	}
	wg.Wait()
}
