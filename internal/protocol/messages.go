package protocol

import "encoding/json"

// Request is the client→server command envelope. Type selects the handler;
// the remaining top-level fields are command-specific and are re-decoded
// from Raw by the dispatcher.
type Request struct {
	RequestID uint64 `json:"requestId"`
	Type      string `json:"type"`

	// Raw is the full frame payload, kept so handlers can unmarshal their
	// typed argument struct. Not serialized.
	Raw json.RawMessage `json:"-"`
}

// DecodeRequest parses a raw frame into a Request, retaining the payload.
func DecodeRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, err
	}
	req.Raw = payload
	return req, nil
}

// Args unmarshals the command-specific arguments into v.
func (r Request) Args(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// Reply is the server→client command reply envelope.
type Reply struct {
	RequestID uint64          `json:"requestId"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Err       *Error          `json:"error,omitempty"`
}

// OKReply builds a success reply, marshaling result inline.
func OKReply(requestID uint64, result any) Reply {
	raw, err := json.Marshal(result)
	if err != nil {
		return ErrReply(requestID, Errorf(KindInternal, "marshal result: %v", err))
	}
	return Reply{RequestID: requestID, OK: true, Result: raw}
}

// ErrReply builds a failure reply.
func ErrReply(requestID uint64, perr *Error) Reply {
	return Reply{RequestID: requestID, OK: false, Err: perr}
}

// Server→client push frame types. Anything that is not a Reply carries one
// of these in its "type" field.
const (
	FrameObserved  = "observed"
	FramePTYOutput = "pty.output"
	FramePTYExit   = "pty.exit"
)

// ObservedFrame delivers one observed event on a workspace subscription.
type ObservedFrame struct {
	Type           string          `json:"type"` // FrameObserved
	SubscriptionID string          `json:"subscriptionId"`
	Cursor         uint64          `json:"cursor"`
	Event          json.RawMessage `json:"event"`
}

// PTYOutputFrame delivers one PTY output chunk on a session subscription.
// Bytes is base64 per encoding/json []byte handling.
type PTYOutputFrame struct {
	Type      string `json:"type"` // FramePTYOutput
	SessionID string `json:"sessionId"`
	Cursor    uint64 `json:"cursor"`
	Bytes     []byte `json:"bytes"`
}

// PTYExitFrame reports a session's child process exit.
type PTYExitFrame struct {
	Type      string  `json:"type"` // FramePTYExit
	SessionID string  `json:"sessionId"`
	Code      *int    `json:"code,omitempty"`
	Signal    *string `json:"signal,omitempty"`
}

// HelloArgs is the first frame on every connection.
type HelloArgs struct {
	AuthToken   string `json:"authToken"`
	TenantID    string `json:"tenantId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
}

// HelloResult acknowledges a successful hello.
type HelloResult struct {
	GatewayStartedAt string `json:"gatewayStartedAt"`
}
