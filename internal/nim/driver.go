package nim

import "context"

// ToolBridge invokes a named tool on behalf of a driver. Implementations
// live outside the runtime; the runtime only threads the bridge through.
type ToolBridge interface {
	Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// TurnRequest is one turn handed to a driver.
type TurnRequest struct {
	RunID string
	Input string
	Tools ToolBridge
}

// SteerResult reports whether a driver accepted mid-turn steering text.
type SteerResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ProviderDriver adapts one provider to the runtime. RunTurn returns the
// turn's semantic event stream; the driver closes the channel after the
// terminal event (or when ctx is cancelled). Adding a provider is a new
// implementation, not a runtime change.
type ProviderDriver interface {
	ID() string
	RunTurn(ctx context.Context, req TurnRequest) (<-chan Event, error)
	// Steer offers mid-turn user text to the active run.
	Steer(text string) SteerResult
}
