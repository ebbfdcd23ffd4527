package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jmoyers/harness-sub014/internal/infrastructure/sqlite"
	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/protocol"
	"github.com/jmoyers/harness-sub014/internal/pty"
	"github.com/jmoyers/harness-sub014/internal/record"
	"github.com/jmoyers/harness-sub014/internal/syncstore"
	"github.com/jmoyers/harness-sub014/internal/tracing"
)

// dispatch runs one command inside a traced span and shapes the reply.
// Commands on a connection run in request order; concurrency comes from
// having many connections, not from reordering one connection's commands.
func (s *Server) dispatch(ctx context.Context, c *conn, req protocol.Request) protocol.Reply {
	ctx, finish := tracing.CommandSpan(ctx, s.tracer, req.Type, req.RequestID)
	result, err := s.handle(ctx, c, req)
	finish(err)
	if err != nil {
		perr := mapError(err)
		log.Debug(log.CatGateway, "command failed",
			"type", req.Type, "kind", string(perr.Kind), "message", perr.Message)
		return protocol.ErrReply(req.RequestID, perr)
	}
	return protocol.OKReply(req.RequestID, result)
}

func (s *Server) handle(ctx context.Context, c *conn, req protocol.Request) (any, error) {
	switch req.Type {
	case "hello":
		return nil, protocol.NewError(protocol.KindBadRequest, "hello already negotiated")

	case "pty.start":
		return s.handlePTYStart(c, req)
	case "pty.attach":
		return s.handlePTYAttach(c, req)
	case "pty.detach":
		return s.handlePTYDetach(c, req)
	case "pty.subscribe-events":
		return s.handlePTYSubscribeEvents(c, req)
	case "pty.unsubscribe-events":
		return s.handlePTYUnsubscribeEvents(c, req)
	case "pty.close":
		return s.handlePTYClose(c, req)

	case "session.respond":
		return s.handleSessionRespond(c, req)
	case "session.interrupt":
		return s.handleSessionInterrupt(c, req)
	case "session.claim":
		return s.handleSessionClaim(c, req)
	case "session.release":
		return s.handleSessionRelease(c, req)
	case "session.remove":
		return s.handleSessionRemove(c, req)
	case "session.list":
		return s.handleSessionList(c)
	case "session.status":
		return s.handleSessionStatus(c, req)

	case "repository.list":
		return s.handleRepositoryList(c)
	case "repository.upsert":
		return s.handleRepositoryUpsert(c, req, false)
	case "repository.update":
		return s.handleRepositoryUpsert(c, req, true)
	case "repository.archive":
		return s.handleRepositoryArchive(c, req)

	case "directory.upsert":
		return s.handleDirectoryUpsert(c, req)
	case "directory.list":
		return s.handleDirectoryList(c)
	case "directory.archive":
		return s.handleDirectoryArchive(c, req)
	case "directory.git-status":
		return s.handleDirectoryGitStatus(c, req)

	case "conversation.create":
		return s.handleConversationCreate(c, req)
	case "conversation.list":
		return s.handleConversationList(c)
	case "conversation.update":
		return s.handleConversationUpdate(c, req)
	case "conversation.title.refresh":
		return s.handleConversationTitleRefresh(c, req)
	case "conversation.archive":
		return s.handleConversationArchive(c, req)

	case "task.list":
		return s.handleTaskList(c)
	case "task.create":
		return s.handleTaskCreate(c, req)
	case "task.update":
		return s.handleTaskUpdate(c, req)
	case "task.ready":
		return s.handleTaskTransition(c, req, record.TaskReady)
	case "task.draft":
		return s.handleTaskTransition(c, req, record.TaskDraft)
	case "task.complete":
		return s.handleTaskTransition(c, req, record.TaskCompleted)
	case "task.reorder":
		return s.handleTaskReorder(c, req)
	case "task.delete":
		return s.handleTaskDelete(c, req)

	case "events.after":
		return s.handleEventsAfter(c, req)

	case "render-trace.start":
		s.render.Start()
		return map[string]any{"active": true}, nil
	case "render-trace.stop":
		s.render.Stop()
		return map[string]any{"active": false}, nil

	case "profile.start":
		path, err := s.prof.Start()
		if err != nil {
			return nil, protocol.NewError(protocol.KindConflict, err.Error())
		}
		return map[string]any{"active": true, "path": path}, nil
	case "profile.stop":
		path, err := s.prof.Stop()
		if err != nil {
			return nil, protocol.NewError(protocol.KindConflict, err.Error())
		}
		return map[string]any{"active": false, "path": path}, nil

	default:
		return nil, protocol.Errorf(protocol.KindBadRequest, "unknown command type %q", req.Type)
	}
}

// mapError translates domain sentinels into the wire taxonomy. Anything not
// recognized is internal.
func mapError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, sqlite.ErrNotFound), errors.Is(err, pty.ErrSessionNotFound):
		return protocol.NewError(protocol.KindNotFound, err.Error())
	case errors.Is(err, pty.ErrSessionExists), errors.Is(err, pty.ErrSessionExited):
		return protocol.NewError(protocol.KindConflict, err.Error())
	case errors.Is(err, pty.ErrControllerHeld), errors.Is(err, pty.ErrNotController):
		return protocol.NewError(protocol.KindControllerHeld, err.Error())
	case errors.Is(err, pty.ErrStartFailed):
		return protocol.NewError(protocol.KindPTYStartFailed, err.Error())
	default:
		return protocol.NewError(protocol.KindInternal, err.Error())
	}
}

// storage classifies store failures as storage_error so clients see them as
// retryable. ErrNotFound passes through and maps to not_found.
func storage(err error) error {
	if err == nil || errors.Is(err, sqlite.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return protocol.NewError(protocol.KindStorageError, err.Error())
}

func badRequest(msg string) error {
	return protocol.NewError(protocol.KindBadRequest, msg)
}

// scopedArgs carries the optional explicit scope some commands send for
// robustness. When present it must match the connection's negotiated scope.
type scopedArgs struct {
	TenantID    string `json:"tenantId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
}

func (c *conn) commandScope(a scopedArgs) (record.Scope, error) {
	if a.TenantID == "" && a.UserID == "" && a.WorkspaceID == "" {
		return c.scope, nil
	}
	explicit := record.Scope{TenantID: a.TenantID, UserID: a.UserID, WorkspaceID: a.WorkspaceID}
	if explicit != c.scope {
		return record.Scope{}, badRequest("command scope does not match connection scope")
	}
	return explicit, nil
}

func scopeWire(scope record.Scope) map[string]any {
	return map[string]any{
		"tenantId":    scope.TenantID,
		"userId":      scope.UserID,
		"workspaceId": scope.WorkspaceID,
	}
}

// injectScope defaults a record payload's scope to the connection scope so
// clients can omit it on single-record commands.
func injectScope(v any, scope record.Scope) {
	if m, ok := v.(map[string]any); ok {
		if _, present := m["scope"]; !present {
			m["scope"] = scopeWire(scope)
		}
	}
}

func (s *Server) broadcast(scope record.Scope, kind syncstore.EventKind, payload json.RawMessage) error {
	_, err := s.hub.Broadcast(scope, string(kind), payload)
	return storage(err)
}

func strPtr(v string) *string { return &v }

// --- PTY / session commands ---

type ptyStartArgs struct {
	scopedArgs
	SessionID   string            `json:"sessionId"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	Cwd         string            `json:"cwd"`
	Cols        uint16            `json:"cols"`
	Rows        uint16            `json:"rows"`
	WorktreeID  *string           `json:"worktreeId"`
	FG          *string           `json:"fg"`
	BG          *string           `json:"bg"`
	DirectoryID string            `json:"directoryId"`
	AgentType   string            `json:"agentType"`
	Title       string            `json:"title"`
}

type ptyStartResult struct {
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
	StartedAt string `json:"startedAt"`
}

func (s *Server) handlePTYStart(c *conn, req protocol.Request) (any, error) {
	var a ptyStartArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed pty.start arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.SessionID == "" {
		return nil, badRequest("sessionId is required")
	}
	if len(a.Args) == 0 {
		return nil, badRequest("args must name a command")
	}
	if a.Cols == 0 || a.Rows == 0 {
		return nil, badRequest("cols and rows must be positive")
	}

	// Resolve the directory before spawning so a storage failure cannot
	// leave an orphan process behind.
	dir, created, err := s.resolveDirectory(scope, a.DirectoryID, a.Cwd)
	if err != nil {
		return nil, err
	}

	sess, err := s.sup.Start(pty.StartOptions{
		SessionID:  a.SessionID,
		Scope:      scope,
		Args:       a.Args,
		Env:        a.Env,
		Cwd:        a.Cwd,
		Cols:       a.Cols,
		Rows:       a.Rows,
		WorktreeID: a.WorktreeID,
		FG:         a.FG,
		BG:         a.BG,
	})
	if err != nil {
		return nil, err
	}
	view := sess.View()

	agentType := a.AgentType
	if agentType == "" {
		agentType = filepath.Base(a.Args[0])
	}
	conv := record.Conversation{
		ConversationID:     a.SessionID,
		DirectoryID:        dir.DirectoryID,
		Scope:              scope,
		Title:              a.Title,
		AgentType:          agentType,
		AdapterState:       map[string]any{},
		RuntimeStatus:      record.RuntimeRunning,
		RuntimeStatusModel: &view.StatusModel,
		RuntimeLive:        true,
	}
	if err := storage(s.store.Conversations.Upsert(conv)); err != nil {
		_ = sess.Close()
		_ = s.sup.Remove(scope, a.SessionID)
		return nil, err
	}

	if created {
		if err := s.broadcast(scope, syncstore.EventDirectoryUpserted, eventDirectoryUpserted(dir)); err != nil {
			return nil, err
		}
	}
	if err := s.broadcast(scope, syncstore.EventConversationCreated, eventConversationCreated(conv)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventSessionStatus, eventSessionStatus(view)); err != nil {
		return nil, err
	}

	pid := 0
	if view.ProcessID != nil {
		pid = *view.ProcessID
	}
	return ptyStartResult{SessionID: a.SessionID, PID: pid, StartedAt: view.StartedAt}, nil
}

// resolveDirectory finds or creates the directory a session runs under.
// Lookup order: explicit id, then path match on cwd, then a fresh record.
func (s *Server) resolveDirectory(scope record.Scope, directoryID, cwd string) (record.Directory, bool, error) {
	if directoryID != "" {
		dir, err := s.store.Directories.Get(scope, directoryID)
		if err == nil {
			return dir, false, nil
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			return record.Directory{}, false, storage(err)
		}
		dir = record.Directory{
			DirectoryID: directoryID,
			Scope:       scope,
			Path:        pathOrID(cwd, directoryID),
			CreatedAt:   strPtr(nowISO()),
		}
		if err := storage(s.store.Directories.Upsert(dir)); err != nil {
			return record.Directory{}, false, err
		}
		return dir, true, nil
	}

	if cwd != "" {
		dirs, err := s.store.Directories.List(scope)
		if err != nil {
			return record.Directory{}, false, storage(err)
		}
		for _, dir := range dirs {
			if dir.Path == cwd && dir.ArchivedAt == nil {
				return dir, false, nil
			}
		}
	}

	dir := record.Directory{
		DirectoryID: uuid.NewString(),
		Scope:       scope,
		Path:        pathOrID(cwd, ""),
		CreatedAt:   strPtr(nowISO()),
	}
	if dir.Path == "" {
		dir.Path = dir.DirectoryID
	}
	if err := storage(s.store.Directories.Upsert(dir)); err != nil {
		return record.Directory{}, false, err
	}
	return dir, true, nil
}

func pathOrID(path, id string) string {
	if path != "" {
		return path
	}
	return id
}

type sessionArgs struct {
	scopedArgs
	SessionID string `json:"sessionId"`
}

func (s *Server) session(c *conn, a sessionArgs) (*pty.Session, error) {
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.SessionID == "" {
		return nil, badRequest("sessionId is required")
	}
	return s.sup.Get(scope, a.SessionID)
}

type ptyAttachArgs struct {
	sessionArgs
	SinceCursor uint64 `json:"sinceCursor"`
}

type ptyAttachResult struct {
	Replay         []byte `json:"replay"`
	StartCursor    uint64 `json:"startCursor"`
	EarliestCursor uint64 `json:"earliestCursor"`
	LatestCursor   uint64 `json:"latestCursor"`
}

func (s *Server) handlePTYAttach(c *conn, req protocol.Request) (any, error) {
	var a ptyAttachArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed pty.attach arguments")
	}
	sess, err := s.session(c, a.sessionArgs)
	if err != nil {
		return nil, err
	}

	// Route live output to this connection before replaying; the client
	// dedupes the overlap window by cursor.
	s.hub.AttachPTYOutput(c.id, sess.ID())
	res := sess.Attach(c.id, a.SinceCursor)
	return ptyAttachResult{
		Replay:         res.Replay,
		StartCursor:    res.Start,
		EarliestCursor: res.Earliest,
		LatestCursor:   res.Latest,
	}, nil
}

func (s *Server) handlePTYDetach(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed pty.detach arguments")
	}
	sess, err := s.session(c, a)
	if err != nil {
		return nil, err
	}
	s.hub.DetachPTYOutput(c.id, sess.ID())
	sess.Detach(c.id)
	return map[string]any{"detached": true}, nil
}

func (s *Server) handlePTYSubscribeEvents(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed pty.subscribe-events arguments")
	}
	sess, err := s.session(c, a)
	if err != nil {
		return nil, err
	}
	s.hub.SubscribePTYEvents(c.id, sess.ID())
	sess.SubscribeEvents(c.id)
	return map[string]any{"session": sess.View()}, nil
}

func (s *Server) handlePTYUnsubscribeEvents(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed pty.unsubscribe-events arguments")
	}
	sess, err := s.session(c, a)
	if err != nil {
		return nil, err
	}
	s.hub.UnsubscribePTYEvents(c.id, sess.ID())
	sess.UnsubscribeEvents(c.id)
	return map[string]any{"subscribed": false}, nil
}

func (s *Server) handlePTYClose(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed pty.close arguments")
	}
	sess, err := s.session(c, a)
	if err != nil {
		return nil, err
	}
	exit := sess.Close()
	result := map[string]any{}
	if exit != nil {
		result["code"] = exit.Code
		result["signal"] = exit.Signal
	}
	return result, nil
}

type respondArgs struct {
	sessionArgs
	Text string `json:"text"`
}

type respondResult struct {
	Responded bool `json:"responded"`
	SentBytes int  `json:"sentBytes"`
}

func (s *Server) handleSessionRespond(c *conn, req protocol.Request) (any, error) {
	var a respondArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed session.respond arguments")
	}
	sess, err := s.session(c, a.sessionArgs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	controllerID := c.controllers[a.SessionID]
	c.mu.Unlock()

	responded, sent, err := sess.Respond(controllerID, a.Text)
	if err != nil {
		return nil, err
	}
	return respondResult{Responded: responded, SentBytes: sent}, nil
}

func (s *Server) handleSessionInterrupt(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed session.interrupt arguments")
	}
	sess, err := s.session(c, a)
	if err != nil {
		return nil, err
	}
	if err := sess.Interrupt(); err != nil {
		return nil, err
	}
	return map[string]any{"interrupted": true}, nil
}

type claimArgs struct {
	sessionArgs
	ControllerID    string  `json:"controllerId"`
	ControllerType  string  `json:"controllerType"`
	ControllerLabel *string `json:"controllerLabel"`
	Takeover        bool    `json:"takeover"`
}

func (s *Server) handleSessionClaim(c *conn, req protocol.Request) (any, error) {
	var a claimArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed session.claim arguments")
	}
	sess, err := s.session(c, a.sessionArgs)
	if err != nil {
		return nil, err
	}
	if a.ControllerID == "" {
		return nil, badRequest("controllerId is required")
	}
	ctype := record.ControllerType(a.ControllerType)
	switch ctype {
	case record.ControllerHuman, record.ControllerAgent, record.ControllerAutomation:
	case "":
		ctype = record.ControllerHuman
	default:
		return nil, badRequest("unknown controllerType")
	}

	controller := record.Controller{
		ControllerID:    a.ControllerID,
		ControllerType:  ctype,
		ControllerLabel: a.ControllerLabel,
		ClaimedAt:       nowISO(),
	}
	if err := sess.Claim(controller, a.Takeover); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.controllers[a.SessionID] = a.ControllerID
	c.mu.Unlock()
	return map[string]any{"claimed": true, "controller": controller}, nil
}

func (s *Server) handleSessionRelease(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed session.release arguments")
	}
	sess, err := s.session(c, a)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	controllerID := c.controllers[a.SessionID]
	delete(c.controllers, a.SessionID)
	c.mu.Unlock()
	if controllerID == "" {
		return nil, pty.ErrNotController
	}
	sess.ReleaseController(controllerID)
	return map[string]any{"released": true}, nil
}

func (s *Server) handleSessionRemove(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed session.remove arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if err := s.sup.Remove(scope, a.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"removed": true}, nil
}

func (s *Server) handleSessionList(c *conn) (any, error) {
	sessions := s.sup.List(c.scope)
	if sessions == nil {
		sessions = []record.Session{}
	}
	return map[string]any{"sessions": sessions}, nil
}

func (s *Server) handleSessionStatus(c *conn, req protocol.Request) (any, error) {
	var a sessionArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed session.status arguments")
	}
	sess, err := s.session(c, a)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sess.View()}, nil
}

// --- Repository commands ---

type repositoryPayloadArgs struct {
	scopedArgs
	Repository any `json:"repository"`
}

func (s *Server) handleRepositoryList(c *conn) (any, error) {
	repos, err := s.store.Repositories.List(c.scope)
	if err != nil {
		return nil, storage(err)
	}
	if repos == nil {
		repos = []record.Repository{}
	}
	return map[string]any{"repositories": repos}, nil
}

func (s *Server) handleRepositoryUpsert(c *conn, req protocol.Request, mustExist bool) (any, error) {
	var a repositoryPayloadArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed repository arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	injectScope(a.Repository, scope)
	repo := record.ParseRepository(a.Repository)
	if repo == nil {
		return nil, badRequest("malformed repository record")
	}
	if repo.Scope != scope {
		return nil, badRequest("repository scope does not match connection scope")
	}

	if mustExist {
		existing, err := s.store.Repositories.Get(scope, repo.RepositoryID)
		if err != nil {
			return nil, storage(err)
		}
		if repo.CreatedAt == nil {
			repo.CreatedAt = existing.CreatedAt
		}
	} else if repo.CreatedAt == nil {
		repo.CreatedAt = strPtr(nowISO())
	}

	if err := storage(s.store.Repositories.Upsert(*repo)); err != nil {
		return nil, err
	}
	kind, payload := syncstore.EventRepositoryUpserted, eventRepositoryUpserted(*repo)
	if mustExist {
		kind, payload = syncstore.EventRepositoryUpdated, eventRepositoryUpdated(*repo)
	}
	if err := s.broadcast(scope, kind, payload); err != nil {
		return nil, err
	}
	return map[string]any{"repository": repo}, nil
}

type idArgs struct {
	scopedArgs
	RepositoryID   string `json:"repositoryId"`
	DirectoryID    string `json:"directoryId"`
	ConversationID string `json:"conversationId"`
	TaskID         string `json:"taskId"`
}

func (s *Server) handleRepositoryArchive(c *conn, req protocol.Request) (any, error) {
	var a idArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed repository.archive arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.RepositoryID == "" {
		return nil, badRequest("repositoryId is required")
	}
	archivedAt := nowISO()
	if err := storage(s.store.Repositories.Archive(scope, a.RepositoryID, archivedAt)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventRepositoryArchived,
		eventRepositoryArchived(a.RepositoryID, archivedAt)); err != nil {
		return nil, err
	}
	return map[string]any{"archivedAt": archivedAt}, nil
}

// --- Directory commands ---

type directoryPayloadArgs struct {
	scopedArgs
	Directory any `json:"directory"`
}

func (s *Server) handleDirectoryUpsert(c *conn, req protocol.Request) (any, error) {
	var a directoryPayloadArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed directory.upsert arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	injectScope(a.Directory, scope)
	dir := record.ParseDirectory(a.Directory)
	if dir == nil {
		return nil, badRequest("malformed directory record")
	}
	if dir.Scope != scope {
		return nil, badRequest("directory scope does not match connection scope")
	}
	if dir.CreatedAt == nil {
		dir.CreatedAt = strPtr(nowISO())
	}
	if err := storage(s.store.Directories.Upsert(*dir)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventDirectoryUpserted, eventDirectoryUpserted(*dir)); err != nil {
		return nil, err
	}
	return map[string]any{"directory": dir}, nil
}

func (s *Server) handleDirectoryList(c *conn) (any, error) {
	dirs, err := s.store.Directories.List(c.scope)
	if err != nil {
		return nil, storage(err)
	}
	if dirs == nil {
		dirs = []record.Directory{}
	}
	return map[string]any{"directories": dirs}, nil
}

func (s *Server) handleDirectoryArchive(c *conn, req protocol.Request) (any, error) {
	var a idArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed directory.archive arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.DirectoryID == "" {
		return nil, badRequest("directoryId is required")
	}

	archivedAt := nowISO()
	removed, err := s.store.Directories.Archive(scope, a.DirectoryID, archivedAt)
	if err != nil {
		return nil, storage(err)
	}
	// The reducer cascades conversation removal off this one event; the
	// gateway only has to stop the live sessions underneath.
	if err := s.broadcast(scope, syncstore.EventDirectoryArchived,
		eventDirectoryArchived(a.DirectoryID, archivedAt)); err != nil {
		return nil, err
	}
	for _, convID := range removed {
		if sess, err := s.sup.Get(scope, convID); err == nil {
			log.SafeGo("archive-close-"+convID, func() { sess.Close() })
		}
	}
	if removed == nil {
		removed = []string{}
	}
	return map[string]any{"archivedAt": archivedAt, "archivedConversationIds": removed}, nil
}

func (s *Server) handleDirectoryGitStatus(c *conn, req protocol.Request) (any, error) {
	var a idArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed directory.git-status arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.DirectoryID == "" {
		return nil, badRequest("directoryId is required")
	}
	dir, err := s.store.Directories.Get(scope, a.DirectoryID)
	if err != nil {
		return nil, storage(err)
	}
	status, err := s.git.Status(dir.Path)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindInternal, "git probe failed: %v", err)
	}
	return map[string]any{"gitStatus": status}, nil
}

// --- Conversation commands ---

type conversationCreateArgs struct {
	scopedArgs
	ConversationID string         `json:"conversationId"`
	DirectoryID    string         `json:"directoryId"`
	Title          string         `json:"title"`
	AgentType      string         `json:"agentType"`
	AdapterState   map[string]any `json:"adapterState"`
	Path           string         `json:"path"`
}

func (s *Server) handleConversationCreate(c *conn, req protocol.Request) (any, error) {
	var a conversationCreateArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed conversation.create arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.ConversationID == "" || a.DirectoryID == "" || a.AgentType == "" {
		return nil, badRequest("conversationId, directoryId and agentType are required")
	}
	if _, err := s.store.Conversations.Get(scope, a.ConversationID); err == nil {
		return nil, protocol.Errorf(protocol.KindConflict, "conversation %s already exists", a.ConversationID)
	} else if !errors.Is(err, sqlite.ErrNotFound) {
		return nil, storage(err)
	}

	dir, created, err := s.resolveDirectory(scope, a.DirectoryID, a.Path)
	if err != nil {
		return nil, err
	}

	if a.AdapterState == nil {
		a.AdapterState = map[string]any{}
	}
	conv := record.Conversation{
		ConversationID: a.ConversationID,
		DirectoryID:    dir.DirectoryID,
		Scope:          scope,
		Title:          a.Title,
		AgentType:      a.AgentType,
		AdapterState:   a.AdapterState,
		RuntimeStatus:  record.RuntimeExited,
		RuntimeLive:    false,
	}
	if err := storage(s.store.Conversations.Upsert(conv)); err != nil {
		return nil, err
	}

	if created {
		if err := s.broadcast(scope, syncstore.EventDirectoryUpserted, eventDirectoryUpserted(dir)); err != nil {
			return nil, err
		}
	}
	if err := s.broadcast(scope, syncstore.EventConversationCreated, eventConversationCreated(conv)); err != nil {
		return nil, err
	}
	return map[string]any{"conversation": conv}, nil
}

func (s *Server) handleConversationList(c *conn) (any, error) {
	convs, err := s.store.Conversations.List(c.scope)
	if err != nil {
		return nil, storage(err)
	}
	if convs == nil {
		convs = []record.Conversation{}
	}
	return map[string]any{"conversations": convs}, nil
}

type conversationUpdateArgs struct {
	scopedArgs
	ConversationID string         `json:"conversationId"`
	Title          *string        `json:"title"`
	AdapterState   map[string]any `json:"adapterState"`
}

func (s *Server) handleConversationUpdate(c *conn, req protocol.Request) (any, error) {
	var a conversationUpdateArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed conversation.update arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.ConversationID == "" {
		return nil, badRequest("conversationId is required")
	}
	conv, err := s.store.Conversations.Get(scope, a.ConversationID)
	if err != nil {
		return nil, storage(err)
	}
	if a.Title != nil {
		conv.Title = *a.Title
	}
	if a.AdapterState != nil {
		conv.AdapterState = a.AdapterState
	}
	if err := storage(s.store.Conversations.Upsert(conv)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventConversationUpdated, eventConversationUpdated(conv)); err != nil {
		return nil, err
	}
	return map[string]any{"conversation": conv}, nil
}

type titleRefreshResult struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

// handleConversationTitleRefresh derives a title from the session's visible
// output. The reply only reports whether a refresh was scheduled; the
// conversation-updated event lands separately when the derivation does.
func (s *Server) handleConversationTitleRefresh(c *conn, req protocol.Request) (any, error) {
	var a idArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed conversation.title.refresh arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.ConversationID == "" {
		return nil, badRequest("conversationId is required")
	}
	conv, err := s.store.Conversations.Get(scope, a.ConversationID)
	if err != nil {
		return nil, storage(err)
	}
	if conv.Title != "" {
		return titleRefreshResult{Status: "skipped", Reason: strPtr("title already set")}, nil
	}
	sess, err := s.sup.Get(scope, a.ConversationID)
	if err != nil {
		return titleRefreshResult{Status: "skipped", Reason: strPtr("no live session")}, nil
	}

	log.SafeGo("title-refresh-"+a.ConversationID, func() {
		s.refreshTitle(scope, a.ConversationID, sess)
	})
	return titleRefreshResult{Status: "updated"}, nil
}

func (s *Server) refreshTitle(scope record.Scope, conversationID string, sess *pty.Session) {
	data, _ := sess.Peek(0)
	title := deriveTitle(data)
	if title == "" {
		return
	}
	conv, err := s.store.Conversations.Get(scope, conversationID)
	if err != nil || conv.Title != "" {
		return
	}
	conv.Title = title
	if err := s.store.Conversations.Upsert(conv); err != nil {
		log.ErrorErr(log.CatGateway, "persisting refreshed title failed", err, "conversation", conversationID)
		return
	}
	if err := s.broadcast(scope, syncstore.EventConversationUpdated, eventConversationUpdated(conv)); err != nil {
		log.ErrorErr(log.CatGateway, "broadcasting refreshed title failed", err, "conversation", conversationID)
	}
}

// deriveTitle takes the first visible output line, truncated for display.
func deriveTitle(data []byte) string {
	const maxTitle = 60
	for _, line := range strings.Split(pty.StripANSI(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxTitle {
			line = line[:maxTitle]
		}
		return line
	}
	return ""
}

func (s *Server) handleConversationArchive(c *conn, req protocol.Request) (any, error) {
	var a idArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed conversation.archive arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.ConversationID == "" {
		return nil, badRequest("conversationId is required")
	}
	archivedAt := nowISO()
	if err := storage(s.store.Conversations.Archive(scope, a.ConversationID, archivedAt)); err != nil {
		return nil, err
	}
	if sess, err := s.sup.Get(scope, a.ConversationID); err == nil {
		log.SafeGo("archive-close-"+a.ConversationID, func() { sess.Close() })
	}
	if err := s.broadcast(scope, syncstore.EventConversationArchived,
		eventConversationArchived(a.ConversationID)); err != nil {
		return nil, err
	}
	return map[string]any{"archivedAt": archivedAt}, nil
}

// --- Task commands ---

type taskPayloadArgs struct {
	scopedArgs
	Task any `json:"task"`
}

func (s *Server) handleTaskList(c *conn) (any, error) {
	tasks, err := s.store.Tasks.List(c.scope)
	if err != nil {
		return nil, storage(err)
	}
	if tasks == nil {
		tasks = []record.Task{}
	}
	return map[string]any{"tasks": tasks}, nil
}

func (s *Server) handleTaskCreate(c *conn, req protocol.Request) (any, error) {
	var a taskPayloadArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed task.create arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	m, ok := a.Task.(map[string]any)
	if !ok {
		return nil, badRequest("malformed task record")
	}
	injectScope(m, scope)
	now := nowISO()
	fillDefault(m, "taskId", uuid.NewString())
	fillDefault(m, "status", string(record.TaskDraft))
	fillDefault(m, "body", "")
	fillDefault(m, "createdAt", now)
	fillDefault(m, "updatedAt", now)
	if _, present := m["orderIndex"]; !present {
		next, err := s.nextOrderIndex(scope)
		if err != nil {
			return nil, err
		}
		m["orderIndex"] = next
	}

	task := record.ParseTask(m)
	if task == nil {
		return nil, badRequest("malformed task record")
	}
	if task.Scope != scope {
		return nil, badRequest("task scope does not match connection scope")
	}
	if err := storage(s.store.Tasks.Upsert(*task)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventTaskCreated, eventTaskCreated(*task)); err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func fillDefault(m map[string]any, key string, value any) {
	if _, present := m[key]; !present {
		m[key] = value
	}
}

func (s *Server) nextOrderIndex(scope record.Scope) (int, error) {
	tasks, err := s.store.Tasks.List(scope)
	if err != nil {
		return 0, storage(err)
	}
	next := 0
	for _, t := range tasks {
		if t.OrderIndex >= next {
			next = t.OrderIndex + 1
		}
	}
	return next, nil
}

func (s *Server) handleTaskUpdate(c *conn, req protocol.Request) (any, error) {
	var a taskPayloadArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed task.update arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	injectScope(a.Task, scope)
	task := record.ParseTask(a.Task)
	if task == nil {
		return nil, badRequest("malformed task record")
	}
	if task.Scope != scope {
		return nil, badRequest("task scope does not match connection scope")
	}
	existing, err := s.store.Tasks.Get(scope, task.TaskID)
	if err != nil {
		return nil, storage(err)
	}
	if task.Status != existing.Status && !existing.Status.CanTransitionTo(task.Status) {
		return nil, protocol.Errorf(protocol.KindBadRequest,
			"illegal status transition %s -> %s", existing.Status, task.Status)
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = nowISO()
	if task.Status == record.TaskCompleted && task.CompletedAt == nil {
		task.CompletedAt = strPtr(task.UpdatedAt)
	}
	if err := storage(s.store.Tasks.Upsert(*task)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventTaskUpdated, eventTaskUpdated(*task)); err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (s *Server) handleTaskTransition(c *conn, req protocol.Request, target record.TaskStatus) (any, error) {
	var a idArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed task arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.TaskID == "" {
		return nil, badRequest("taskId is required")
	}
	task, err := s.store.Tasks.Get(scope, a.TaskID)
	if err != nil {
		return nil, storage(err)
	}
	if task.Status != target {
		if !task.Status.CanTransitionTo(target) {
			return nil, protocol.Errorf(protocol.KindBadRequest,
				"illegal status transition %s -> %s", task.Status, target)
		}
		task.Status = target
		task.UpdatedAt = nowISO()
		if target == record.TaskCompleted {
			task.CompletedAt = strPtr(task.UpdatedAt)
		}
		if err := storage(s.store.Tasks.Upsert(task)); err != nil {
			return nil, err
		}
		if err := s.broadcast(scope, syncstore.EventTaskUpdated, eventTaskUpdated(task)); err != nil {
			return nil, err
		}
	}
	return map[string]any{"task": task}, nil
}

type taskReorderArgs struct {
	scopedArgs
	TaskIDs []string `json:"taskIds"`
}

func (s *Server) handleTaskReorder(c *conn, req protocol.Request) (any, error) {
	var a taskReorderArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed task.reorder arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if len(a.TaskIDs) == 0 {
		return nil, badRequest("taskIds must not be empty")
	}

	existing, err := s.store.Tasks.List(scope)
	if err != nil {
		return nil, storage(err)
	}
	byID := make(map[string]record.Task, len(existing))
	for _, t := range existing {
		byID[t.TaskID] = t
	}
	if len(a.TaskIDs) != len(existing) {
		return nil, badRequest("taskIds must list every task exactly once")
	}

	now := nowISO()
	ordered := make([]record.Task, 0, len(a.TaskIDs))
	seen := make(map[string]struct{}, len(a.TaskIDs))
	for i, id := range a.TaskIDs {
		if _, dup := seen[id]; dup {
			return nil, badRequest("taskIds must list every task exactly once")
		}
		seen[id] = struct{}{}
		task, ok := byID[id]
		if !ok {
			return nil, protocol.Errorf(protocol.KindNotFound, "task %s not found", id)
		}
		task.OrderIndex = i
		task.UpdatedAt = now
		ordered = append(ordered, task)
	}

	if err := storage(s.store.Tasks.ReplaceOrder(ordered)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventTaskReordered, eventTaskReordered(ordered)); err != nil {
		return nil, err
	}
	return map[string]any{"tasks": ordered}, nil
}

// --- Event log replay ---

type eventsAfterArgs struct {
	scopedArgs
	SinceCursor uint64 `json:"sinceCursor"`
	Limit       int    `json:"limit"`
}

type loggedEventWire struct {
	Cursor uint64          `json:"cursor"`
	Event  json.RawMessage `json:"event"`
}

// handleEventsAfter replays persisted observed events above a cursor so a
// reconnecting client can catch its synced store up before streaming.
func (s *Server) handleEventsAfter(c *conn, req protocol.Request) (any, error) {
	var a eventsAfterArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed events.after arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	logged, err := s.store.EventLog.ListAfter(scope, a.SinceCursor, a.Limit)
	if err != nil {
		return nil, storage(err)
	}
	events := make([]loggedEventWire, 0, len(logged))
	for _, ev := range logged {
		events = append(events, loggedEventWire{Cursor: ev.Cursor, Event: ev.Payload})
	}
	return map[string]any{"events": events}, nil
}

func (s *Server) handleTaskDelete(c *conn, req protocol.Request) (any, error) {
	var a idArgs
	if err := req.Args(&a); err != nil {
		return nil, badRequest("malformed task.delete arguments")
	}
	scope, err := c.commandScope(a.scopedArgs)
	if err != nil {
		return nil, err
	}
	if a.TaskID == "" {
		return nil, badRequest("taskId is required")
	}
	if err := storage(s.store.Tasks.Delete(scope, a.TaskID)); err != nil {
		return nil, err
	}
	if err := s.broadcast(scope, syncstore.EventTaskDeleted, eventTaskDeleted(a.TaskID)); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}
