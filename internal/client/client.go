// Package client implements the gateway client: dial, hello, typed command
// requests, and the push-frame pump that feeds observed events into a synced
// store and PTY frames into caller callbacks.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/protocol"
	"github.com/jmoyers/harness-sub014/internal/record"
	"github.com/jmoyers/harness-sub014/internal/syncstore"
)

// ErrClosed reports a request on a closed client.
var ErrClosed = errors.New("client closed")

// subscriptionKey is the local ordering domain for the workspace stream.
// Live frames and events.after replay share it so the cursor tracker rejects
// overlap between the two.
const subscriptionKey = "gateway"

// Options configures a client connection.
type Options struct {
	Port      int
	AuthToken string
	Scope     record.Scope

	// Store receives observed events; nil drops them.
	Store *syncstore.Store

	// DialTimeout bounds the TCP connect; zero means 5 s.
	DialTimeout time.Duration

	// OnPTYOutput receives output chunks for sessions this client attached.
	OnPTYOutput func(sessionID string, cursor uint64, data []byte)
	// OnPTYExit receives exit notices for subscribed sessions.
	OnPTYExit func(sessionID string, exit record.LastExit)
	// OnDisconnect fires once when the read pump stops.
	OnDisconnect func(err error)
}

// Client is one authenticated gateway connection.
type Client struct {
	opts             Options
	nc               net.Conn
	gatewayStartedAt string

	done chan struct{}

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan protocol.Reply
	closed  bool
}

// Dial connects, authenticates with a hello frame, and starts the push pump.
func Dial(opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	nc, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.Port)), timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}

	c := &Client{
		opts:    opts,
		nc:      nc,
		done:    make(chan struct{}),
		pending: make(map[uint64]chan protocol.Reply),
	}
	if err := c.hello(); err != nil {
		_ = nc.Close()
		return nil, err
	}
	log.SafeGo("client-pump", c.pump)
	return c, nil
}

func (c *Client) hello() error {
	frame := map[string]any{
		"requestId":   uint64(1),
		"type":        "hello",
		"authToken":   c.opts.AuthToken,
		"tenantId":    c.opts.Scope.TenantID,
		"userId":      c.opts.Scope.UserID,
		"workspaceId": c.opts.Scope.WorkspaceID,
	}
	if err := protocol.WriteFrame(c.nc, frame); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	var reply protocol.Reply
	if err := protocol.DecodeFrame(c.nc, &reply); err != nil {
		return fmt.Errorf("reading hello reply: %w", err)
	}
	if !reply.OK {
		return reply.Err
	}
	var result protocol.HelloResult
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		return fmt.Errorf("decoding hello result: %w", err)
	}
	c.gatewayStartedAt = result.GatewayStartedAt
	c.nextID = 1
	return nil
}

// GatewayStartedAt reports the server start time from the hello exchange.
func (c *Client) GatewayStartedAt() string { return c.gatewayStartedAt }

// Close tears the connection down. In-flight requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = make(map[uint64]chan protocol.Reply)
	c.mu.Unlock()

	close(c.done)
	return c.nc.Close()
}

// Request sends one command and waits for its reply. args may be a struct or
// a map; its fields are merged into the command frame. A reply with ok=false
// returns the typed protocol error.
func (c *Client) Request(ctx context.Context, cmdType string, args any) (json.RawMessage, error) {
	frame, err := commandFrame(cmdType, args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	frame["requestId"] = id
	ch := make(chan protocol.Reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := protocol.WriteFrame(c.nc, frame); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("sending %s: %w", cmdType, err)
	}

	select {
	case reply := <-ch:
		if !reply.OK {
			return nil, reply.Err
		}
		return reply.Result, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func commandFrame(cmdType string, args any) (map[string]any, error) {
	frame := map[string]any{"type": cmdType}
	if args == nil {
		return frame, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding %s arguments: %w", cmdType, err)
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("arguments for %s must encode to an object: %w", cmdType, err)
	}
	for k, v := range merged {
		frame[k] = v
	}
	return frame, nil
}

// CatchUp replays persisted events above the store's last accepted cursor
// into the store. Call it after Dial on a reconnect; live frames arriving
// concurrently are deduplicated by the cursor tracker.
func (c *Client) CatchUp(ctx context.Context) error {
	if c.opts.Store == nil {
		return nil
	}
	since, _ := c.opts.Store.Cursors().Last(subscriptionKey)
	result, err := c.Request(ctx, "events.after", map[string]any{"sinceCursor": since})
	if err != nil {
		return err
	}
	var replay struct {
		Events []struct {
			Cursor uint64          `json:"cursor"`
			Event  json.RawMessage `json:"event"`
		} `json:"events"`
	}
	if err := json.Unmarshal(result, &replay); err != nil {
		return fmt.Errorf("decoding events.after result: %w", err)
	}
	for _, logged := range replay.Events {
		c.applyObserved(logged.Cursor, logged.Event)
	}
	return nil
}

// pump reads push frames until the connection drops. Replies are routed to
// their waiting requests; observed events feed the store; PTY frames go to
// the configured callbacks.
func (c *Client) pump() {
	var pumpErr error
	for {
		payload, err := protocol.ReadFrame(c.nc)
		if err != nil {
			pumpErr = err
			break
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &head); err != nil {
			pumpErr = err
			break
		}

		switch head.Type {
		case protocol.FrameObserved:
			var frame protocol.ObservedFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				continue
			}
			c.applyObserved(frame.Cursor, frame.Event)

		case protocol.FramePTYOutput:
			var frame protocol.PTYOutputFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				continue
			}
			if c.opts.OnPTYOutput != nil {
				c.opts.OnPTYOutput(frame.SessionID, frame.Cursor, frame.Bytes)
			}

		case protocol.FramePTYExit:
			var frame protocol.PTYExitFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				continue
			}
			if c.opts.OnPTYExit != nil {
				c.opts.OnPTYExit(frame.SessionID, record.LastExit{Code: frame.Code, Signal: frame.Signal})
			}

		case "":
			var reply protocol.Reply
			if err := json.Unmarshal(payload, &reply); err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[reply.RequestID]
			delete(c.pending, reply.RequestID)
			c.mu.Unlock()
			if ch != nil {
				ch <- reply
			}

		default:
			log.Debug(log.CatClient, "ignoring unknown push frame", "frameType", head.Type)
		}
	}

	_ = c.Close()
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(pumpErr)
	}
}

func (c *Client) applyObserved(cursor uint64, payload json.RawMessage) {
	if c.opts.Store == nil {
		return
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Debug(log.CatClient, "dropping malformed observed event", "cursor", cursor)
		return
	}
	ev, ok := syncstore.EventFromWire(body)
	if !ok {
		return
	}
	c.opts.Store.ApplyObserved(subscriptionKey, cursor, ev)
}
