package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jmoyers/harness-sub014/internal/config"
	"github.com/jmoyers/harness-sub014/internal/infrastructure/sqlite"
	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/protocol"
	"github.com/jmoyers/harness-sub014/internal/pty"
	"github.com/jmoyers/harness-sub014/internal/record"
	"github.com/jmoyers/harness-sub014/internal/syncstore"
	"github.com/jmoyers/harness-sub014/internal/tracing"
)

// Server is the control-plane command server: it owns the PTY supervisor,
// the broadcast hub and the persistent store, and serves length-prefixed
// JSON frames on a loopback TCP port.
type Server struct {
	cfg       config.Config
	store     *sqlite.Store
	hub       *Hub
	sup       *pty.Supervisor
	git       *GitStatusCache
	tracer    trace.Tracer
	render    *tracing.RenderTracer
	prof      *profiler
	token     string
	startedAt string

	ln net.Listener

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

// NewServer wires a server over an opened store. The hub's cursor is seeded
// from the event log so cursors stay monotonic across restarts.
func NewServer(cfg config.Config, store *sqlite.Store, token string, tracer trace.Tracer) (*Server, error) {
	seed, err := store.EventLog.MaxCursor()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		store:     store,
		hub:       NewHub(store.EventLog, seed, cfg.Gateway.SubscriberBuffer),
		git:       NewGitStatusCache(cfg.Gateway.GitStatusTTL, nil),
		tracer:    tracer,
		render:    tracing.NewRenderTracer(tracer),
		prof:      newProfiler(os.TempDir()),
		token:     token,
		startedAt: nowISO(),
		conns:     make(map[string]*conn),
	}
	s.sup = pty.NewSupervisor(cfg.PTY, s)
	return s, nil
}

// StartedAt reports when the server was constructed, echoed in hello replies.
func (s *Server) StartedAt() string { return s.startedAt }

// SetProfileDir directs profile.start output to dir, typically the
// workspace state dir.
func (s *Server) SetProfileDir(dir string) { s.prof.SetDir(dir) }

// Listen binds the loopback listener and returns the bound port. Port 0 in
// the config auto-assigns.
func (s *Server) Listen() (int, error) {
	ln, err := net.Listen("tcp", loopbackAddr(s.cfg.Gateway.Port))
	if err != nil {
		return 0, err
	}
	s.ln = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts connections until ctx is cancelled, then drains: the
// listener closes, every connection is torn down and all PTY sessions are
// closed gracefully.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	g.Go(func() error {
		for {
			nc, err := s.ln.Accept()
			if err != nil {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return nil
				}
				return err
			}
			log.SafeGo("gateway-conn", func() { s.handleConn(ctx, nc) })
		}
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
	s.sup.CloseAll()
}

// conn is one authenticated client connection. id doubles as the workspace
// subscription id and as the PTY client id for attach/subscribe tracking.
type conn struct {
	id    string
	scope record.Scope
	nc    net.Conn

	writeMu sync.Mutex

	mu          sync.Mutex
	controllers map[string]string // sessionId -> controllerId claimed here
	done        chan struct{}
	closed      bool
}

// send writes one frame. Replies from the command loop and pushes from the
// event pump share the connection, so writes are serialized.
func (c *conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.nc, v)
}

func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	_ = c.nc.Close()
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	c, ok := s.hello(nc)
	if !ok {
		_ = nc.Close()
		return
	}
	defer s.releaseConn(c)

	queue := s.hub.Subscribe(c.id, c.scope, func() {
		log.Warn(log.CatGateway, "disconnecting slow subscriber", "subscription", c.id)
		c.close()
	})
	log.SafeGo("gateway-events-"+c.id, func() { c.pumpEvents(queue) })

	log.Info(log.CatGateway, "client connected",
		"subscription", c.id, "workspace", c.scope.WorkspaceID)

	for {
		payload, err := protocol.ReadFrame(nc)
		if err != nil {
			return
		}
		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			log.Warn(log.CatGateway, "malformed frame, closing connection", "subscription", c.id)
			return
		}
		if err := c.send(s.dispatch(ctx, c, req)); err != nil {
			return
		}
	}
}

// hello authenticates the first frame and negotiates the connection scope.
func (s *Server) hello(nc net.Conn) (*conn, bool) {
	payload, err := protocol.ReadFrame(nc)
	if err != nil {
		return nil, false
	}
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		return nil, false
	}
	if req.Type != "hello" {
		_ = protocol.WriteFrame(nc, protocol.ErrReply(req.RequestID,
			protocol.NewError(protocol.KindBadRequest, "first frame must be hello")))
		return nil, false
	}

	var args protocol.HelloArgs
	if err := req.Args(&args); err != nil {
		_ = protocol.WriteFrame(nc, protocol.ErrReply(req.RequestID,
			protocol.NewError(protocol.KindBadRequest, "malformed hello")))
		return nil, false
	}
	scope := record.Scope{TenantID: args.TenantID, UserID: args.UserID, WorkspaceID: args.WorkspaceID}
	if subtle.ConstantTimeCompare([]byte(args.AuthToken), []byte(s.token)) != 1 || !scope.Valid() {
		_ = protocol.WriteFrame(nc, protocol.ErrReply(req.RequestID,
			protocol.NewError(protocol.KindAuthFailed, "authentication failed")))
		return nil, false
	}

	c := &conn{
		id:          uuid.NewString(),
		scope:       scope,
		nc:          nc,
		controllers: make(map[string]string),
		done:        make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	if err := c.send(protocol.OKReply(req.RequestID, protocol.HelloResult{GatewayStartedAt: s.startedAt})); err != nil {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		return nil, false
	}
	return c, true
}

// pumpEvents drains the hub queue onto the wire until the connection closes.
func (c *conn) pumpEvents(queue <-chan any) {
	for {
		select {
		case frame := <-queue:
			if err := c.send(frame); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// releaseConn undoes everything the connection held: its subscription, its
// PTY attachments and event subscriptions, and any controllers it claimed.
func (s *Server) releaseConn(c *conn) {
	c.close()
	s.hub.Unsubscribe(c.id)
	s.sup.ReleaseClient(c.id)

	c.mu.Lock()
	held := make(map[string]string, len(c.controllers))
	for sid, cid := range c.controllers {
		held[sid] = cid
	}
	c.mu.Unlock()
	for sid, cid := range held {
		if sess, err := s.sup.Get(c.scope, sid); err == nil {
			sess.ReleaseController(cid)
		}
	}

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	log.Info(log.CatGateway, "client disconnected", "subscription", c.id)
}

// Sink implementation: the supervisor reports session activity here and the
// server turns it into wire frames and persisted state.

// SessionOutput forwards one PTY chunk to attached readers.
func (s *Server) SessionOutput(sessionID string, cursor uint64, data []byte) {
	s.hub.PublishPTYOutput(sessionID, cursor, data)
}

// SessionStatus broadcasts a session-status event and mirrors the runtime
// status onto the conversation with the same id.
func (s *Server) SessionStatus(view record.Session) {
	if err := s.store.Conversations.UpdateRuntimeStatus(view.Scope, view.SessionID, view.Status); err != nil &&
		!errors.Is(err, sqlite.ErrNotFound) {
		log.ErrorErr(log.CatGateway, "persisting runtime status failed", err, "session", view.SessionID)
	}
	if _, err := s.hub.Broadcast(view.Scope, string(syncstore.EventSessionStatus), eventSessionStatus(view)); err != nil {
		log.ErrorErr(log.CatGateway, "broadcasting session status failed", err, "session", view.SessionID)
	}
}

// SessionExit forwards a child exit to the session's subscribers.
func (s *Server) SessionExit(sessionID string, exit record.LastExit) {
	s.hub.PublishPTYExit(sessionID, exit)
}
