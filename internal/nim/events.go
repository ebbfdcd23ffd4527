// Package nim is the per-session provider runtime: it owns the turn state
// machine, the composer and queued inputs, and projects the driver's
// semantic event stream onto a mode-dependent UI stream.
package nim

// Status is the coarse turn state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusThinking    Status = "thinking"
	StatusToolCalling Status = "tool-calling"
	StatusResponding  Status = "responding"
)

// UIMode selects how much of the semantic stream the UI sees.
type UIMode string

const (
	ModeDebug    UIMode = "debug"
	ModeSeamless UIMode = "seamless"
)

// EventKind identifies a semantic provider event.
type EventKind string

const (
	EventThinkingStarted   EventKind = "provider.thinking.started"
	EventThinkingCompleted EventKind = "provider.thinking.completed"
	EventOutputDelta       EventKind = "assistant.output.delta"
	EventOutputCompleted   EventKind = "assistant.output.completed"
	EventToolCallStarted   EventKind = "tool.call.started"
	EventToolArgsDelta     EventKind = "tool.call.arguments.delta"
	EventToolCallCompleted EventKind = "tool.call.completed"
	EventToolCallFailed    EventKind = "tool.call.failed"
	EventToolResultEmitted EventKind = "tool.result.emitted"
	EventTurnFinished      EventKind = "provider.turn.finished"
	EventTurnAborted       EventKind = "turn.aborted"
)

// Event is one semantic provider event. Text carries delta text or a
// human-readable detail; Tool names the tool for tool.* kinds; FinishReason
// is set on provider.turn.finished.
type Event struct {
	Kind         EventKind      `json:"kind"`
	RunID        string         `json:"runId"`
	Text         string         `json:"text,omitempty"`
	Tool         string         `json:"tool,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

// terminal reports whether the event ends its run.
func (e Event) terminal() bool {
	return e.Kind == EventTurnFinished || e.Kind == EventTurnAborted
}

// UI event kinds beyond the forwarded semantic kinds.
const (
	UITextDelta     = "assistant.text.delta"
	UITextMessage   = "assistant.text.message"
	UIStatusChanged = "status.changed"
	UINotice        = "notice"
)

// UIEvent is one projected event on the UI stream.
type UIEvent struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	// Status is set on status.changed events.
	Status Status `json:"status,omitempty"`
}
