// Package pty owns live terminal sessions: child processes spawned under a
// pseudo-terminal, their bounded output ring buffers, controller claims,
// attach/subscribe sets and respond/interrupt semantics.
package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/record"
)

var (
	ErrSessionExists   = errors.New("session id already live")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExited   = errors.New("session has exited")
	ErrControllerHeld  = errors.New("controller slot held")
	ErrNotController   = errors.New("caller is not the controller")
	ErrStartFailed     = errors.New("pty start failed")
)

// Sink receives session output, status changes and exits. The gateway
// implements it to translate supervisor activity into observed events.
type Sink interface {
	SessionOutput(sessionID string, cursor uint64, data []byte)
	SessionStatus(view record.Session)
	SessionExit(sessionID string, exit record.LastExit)
}

const (
	closeGrace = 2 * time.Second
	idleAfter  = 2 * time.Second
)

// Session is one live PTY process and its runtime state. All mutation goes
// through the supervisor or the session's own pump goroutines.
type Session struct {
	id         string
	scope      record.Scope
	worktreeID *string
	launch     []string
	cmd        *exec.Cmd
	ptmx       *os.File
	ring       *ringBuffer
	sink       Sink

	queue       chan []byte
	queueBudget int
	done        chan struct{}

	mu            sync.Mutex
	pendingBytes  int
	controller    *record.Controller
	attached      map[string]struct{}
	eventSubs     map[string]struct{}
	status        record.StatusModel
	runtime       record.RuntimeStatus
	startedAt     string
	lastEventAt   *string
	lastExit      *record.LastExit
	exitedAt      *string
	live          bool
	latestCursor  uint64
	idleTimer     *time.Timer
	bytesWritten  uint64
	outputChunks  uint64
	droppedWrites uint64
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Scope returns the session's scope triple.
func (s *Session) Scope() record.Scope { return s.scope }

// Done is closed when the child process has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// View snapshots the live session as a record.
func (s *Session) View() record.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() record.Session {
	view := record.Session{
		SessionID:       s.id,
		Scope:           s.scope,
		WorktreeID:      s.worktreeID,
		Status:          s.runtime,
		StatusModel:     s.status,
		LatestCursor:    s.latestCursor,
		AttachedClients: len(s.attached),
		EventSubs:       len(s.eventSubs),
		StartedAt:       s.startedAt,
		LastEventAt:     s.lastEventAt,
		LastExit:        s.lastExit,
		ExitedAt:        s.exitedAt,
		Live:            s.live,
		LaunchCommand:   append([]string(nil), s.launch...),
		Telemetry: &record.SessionTelemetry{
			BytesWritten:  s.bytesWritten,
			OutputChunks:  s.outputChunks,
			DroppedWrites: s.droppedWrites,
		},
	}
	if s.live && s.cmd.Process != nil {
		pid := s.cmd.Process.Pid
		view.ProcessID = &pid
	}
	if s.controller != nil {
		c := *s.controller
		view.Controller = &c
	}
	return view
}

// pumpOutput reads PTY output into the ring buffer, recomputes the status
// model and forwards chunks to the sink. Exits on the first read error,
// which follows either child exit or Close.
func (s *Session) pumpOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			cursor := s.ring.Write(data)

			s.mu.Lock()
			s.latestCursor = cursor
			s.outputChunks++
			at := nowISO()
			s.lastEventAt = &at
			next := deriveStatus(data, s.status)
			changed := !statusEqual(next, s.status)
			s.status = next
			s.resetIdleTimerLocked()
			var view record.Session
			if changed {
				view = s.viewLocked()
			}
			s.mu.Unlock()

			s.sink.SessionOutput(s.id, cursor, data)
			if changed {
				s.sink.SessionStatus(view)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) resetIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(idleAfter, s.onIdle)
}

// onIdle flips a quiet working session to idle.
func (s *Session) onIdle() {
	s.mu.Lock()
	if !s.live || s.status.Phase != record.PhaseWorking {
		s.mu.Unlock()
		return
	}
	s.status = record.StatusModel{Phase: record.PhaseIdle}
	view := s.viewLocked()
	s.mu.Unlock()
	s.sink.SessionStatus(view)
}

// pumpWrites drains the respond queue into the PTY.
func (s *Session) pumpWrites() {
	for {
		select {
		case data := <-s.queue:
			n, err := s.ptmx.Write(data)
			s.mu.Lock()
			s.pendingBytes -= len(data)
			if err != nil {
				s.droppedWrites++
				log.ErrorErr(log.CatPTY, "pty write failed", err, "session", s.id)
			} else {
				s.bytesWritten += uint64(n)
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// waitExit reaps the child, records the exit and notifies the sink.
func (s *Session) waitExit() {
	err := s.cmd.Wait()
	exit := record.LastExit{}
	if err == nil {
		code := 0
		exit.Code = &code
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				sig := ws.Signal().String()
				exit.Signal = &sig
			} else {
				code := exitErr.ExitCode()
				exit.Code = &code
			}
		} else {
			code := 1
			exit.Code = &code
		}
	}
	_ = s.ptmx.Close()

	s.mu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.live = false
	s.runtime = record.RuntimeExited
	s.status = record.StatusModel{Phase: record.PhaseExited}
	s.lastExit = &exit
	at := nowISO()
	s.exitedAt = &at
	view := s.viewLocked()
	s.mu.Unlock()

	close(s.done)
	s.sink.SessionStatus(view)
	s.sink.SessionExit(s.id, exit)
	log.Info(log.CatPTY, "session exited", "session", s.id,
		"code", exit.Code, "signal", exit.Signal)
}

// AttachResult is the replay handed back from Attach. Earliest > the
// requested cursor means older bytes were evicted and the client should
// request a fresh snapshot instead of splicing.
type AttachResult struct {
	Replay   []byte
	Start    uint64
	Earliest uint64
	Latest   uint64
}

// Attach registers a reader and replays buffered output above sinceCursor.
func (s *Session) Attach(clientID string, sinceCursor uint64) AttachResult {
	data, start, _ := s.ring.ReadAfter(sinceCursor)

	s.mu.Lock()
	s.attached[clientID] = struct{}{}
	view := s.viewLocked()
	s.mu.Unlock()
	s.sink.SessionStatus(view)

	return AttachResult{
		Replay:   data,
		Start:    start,
		Earliest: s.ring.Earliest(),
		Latest:   s.ring.Latest(),
	}
}

// Peek returns buffered output above sinceCursor without registering a
// reader, plus the cursor the returned bytes start at.
func (s *Session) Peek(sinceCursor uint64) ([]byte, uint64) {
	data, start, _ := s.ring.ReadAfter(sinceCursor)
	return data, start
}

// Detach removes a reader. The process keeps running with zero readers.
// A no-op for clients that were never attached.
func (s *Session) Detach(clientID string) {
	s.mu.Lock()
	if _, ok := s.attached[clientID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.attached, clientID)
	view := s.viewLocked()
	s.mu.Unlock()
	s.sink.SessionStatus(view)
}

// SubscribeEvents registers a status/event stream reader.
func (s *Session) SubscribeEvents(clientID string) {
	s.mu.Lock()
	s.eventSubs[clientID] = struct{}{}
	s.mu.Unlock()
}

// UnsubscribeEvents removes a status/event stream reader.
func (s *Session) UnsubscribeEvents(clientID string) {
	s.mu.Lock()
	delete(s.eventSubs, clientID)
	s.mu.Unlock()
}

// Claim takes the controller slot. With takeover=false an occupied slot
// fails with ErrControllerHeld; takeover=true evicts the prior controller.
func (s *Session) Claim(controller record.Controller, takeover bool) error {
	s.mu.Lock()
	if s.controller != nil && s.controller.ControllerID != controller.ControllerID && !takeover {
		s.mu.Unlock()
		return ErrControllerHeld
	}
	s.controller = &controller
	view := s.viewLocked()
	s.mu.Unlock()
	s.sink.SessionStatus(view)
	return nil
}

// ReleaseController drops the controller slot when held by controllerID.
func (s *Session) ReleaseController(controllerID string) {
	s.mu.Lock()
	if s.controller == nil || s.controller.ControllerID != controllerID {
		s.mu.Unlock()
		return
	}
	s.controller = nil
	view := s.viewLocked()
	s.mu.Unlock()
	s.sink.SessionStatus(view)
}

// Respond writes text to the PTY stdin on behalf of callerID. The write is
// queued; when the queue budget is exceeded the text is dropped and
// responded=false is returned without error. sentBytes is the byte length
// of accepted text.
func (s *Session) Respond(callerID, text string) (responded bool, sentBytes int, err error) {
	data := []byte(text)

	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return false, 0, ErrSessionExited
	}
	if s.controller == nil || s.controller.ControllerID != callerID {
		s.mu.Unlock()
		return false, 0, ErrNotController
	}
	if s.pendingBytes+len(data) > s.queueBudget {
		s.droppedWrites++
		s.mu.Unlock()
		return false, 0, nil
	}
	s.pendingBytes += len(data)
	s.mu.Unlock()

	select {
	case s.queue <- data:
		return true, len(data), nil
	default:
		s.mu.Lock()
		s.pendingBytes -= len(data)
		s.droppedWrites++
		s.mu.Unlock()
		return false, 0, nil
	}
}

// Interrupt delivers SIGINT to the child.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if !live {
		return ErrSessionExited
	}
	return s.cmd.Process.Signal(syscall.SIGINT)
}

// Close terminates the child gracefully: SIGTERM, a short grace period,
// then SIGKILL. Blocks until the exit is reaped and returns the recorded
// exit. Closing an exited session is a no-op.
func (s *Session) Close() *record.LastExit {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()

	if live {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-s.done:
		case <-time.After(closeGrace):
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExit
}
