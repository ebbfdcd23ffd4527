// Package record defines the scoped, immutable record types exchanged on the
// control-plane wire and held in the synced store, together with their total
// parsers. Records are value-semantics: every update produces a new value.
package record

// Scope is the tenant/user/workspace triple every persisted record carries.
// It is immutable for the life of a record; the server rejects cross-scope
// reads and writes.
type Scope struct {
	TenantID    string `json:"tenantId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
}

// Valid reports whether all three scope components are non-empty.
func (s Scope) Valid() bool {
	return s.TenantID != "" && s.UserID != "" && s.WorkspaceID != ""
}

// Directory represents a project root on disk.
type Directory struct {
	DirectoryID string  `json:"directoryId"`
	Scope       Scope   `json:"scope"`
	Path        string  `json:"path"`
	CreatedAt   *string `json:"createdAt,omitempty"`
	ArchivedAt  *string `json:"archivedAt,omitempty"`
}

// RepositoryMetadata carries optional ordering metadata for repositories.
type RepositoryMetadata struct {
	// HomePriority orders repositories on the home pane; nil means unranked.
	HomePriority *int `json:"homePriority,omitempty"`
}

// Repository is a known git repository.
type Repository struct {
	RepositoryID  string             `json:"repositoryId"`
	Scope         Scope              `json:"scope"`
	Name          string             `json:"name"`
	RemoteURL     string             `json:"remoteUrl"`
	DefaultBranch string             `json:"defaultBranch"`
	Metadata      RepositoryMetadata `json:"metadata"`
	CreatedAt     *string            `json:"createdAt,omitempty"`
	ArchivedAt    *string            `json:"archivedAt,omitempty"`
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
)

// legacy alias accepted on the wire and normalized to TaskReady.
const legacyTaskQueued = "queued"

// CanTransitionTo reports whether a status change is allowed. The reachable
// transitions are exactly draft<->ready, ready->in-progress,
// in-progress->completed. Skipping states is rejected.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskDraft:
		return next == TaskReady
	case TaskReady:
		return next == TaskDraft || next == TaskInProgress
	case TaskInProgress:
		return next == TaskCompleted
	default:
		return false
	}
}

// TaskScopeKind tells which level a task is attached to.
type TaskScopeKind string

const (
	TaskScopeGlobal     TaskScopeKind = "global"
	TaskScopeRepository TaskScopeKind = "repository"
	TaskScopeProject    TaskScopeKind = "project"
)

// Task is a unit of work, optionally attached to a repository or project.
type Task struct {
	TaskID       string        `json:"taskId"`
	Scope        Scope         `json:"scope"`
	RepositoryID *string       `json:"repositoryId,omitempty"`
	ProjectID    *string       `json:"projectId,omitempty"`
	ScopeKind    TaskScopeKind `json:"scopeKind"`
	Title        string        `json:"title"`
	Body         string        `json:"body"`
	Status       TaskStatus    `json:"status"`
	OrderIndex   int           `json:"orderIndex"`
	ClaimedBy    []string      `json:"claimedBy,omitempty"`
	BranchName   *string       `json:"branchName,omitempty"`
	BaseBranch   *string       `json:"baseBranch,omitempty"`
	ClaimedAt    *string       `json:"claimedAt,omitempty"`
	CompletedAt  *string       `json:"completedAt,omitempty"`
	CreatedAt    string        `json:"createdAt"`
	UpdatedAt    string        `json:"updatedAt"`
}

// RuntimeStatus is the coarse live-session status shown on a conversation.
type RuntimeStatus string

const (
	RuntimeRunning    RuntimeStatus = "running"
	RuntimeNeedsInput RuntimeStatus = "needs-input"
	RuntimeCompleted  RuntimeStatus = "completed"
	RuntimeExited     RuntimeStatus = "exited"
)

// Phase is the fine-grained activity phase derived from session output.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseThinking   Phase = "thinking"
	PhaseWorking    Phase = "working"
	PhaseNeedsInput Phase = "needs-input"
	PhaseExited     Phase = "exited"
)

// StatusModel is the heuristic status derived from recent session output.
type StatusModel struct {
	Phase           Phase   `json:"phase"`
	ActivityHint    *string `json:"activityHint,omitempty"`
	AttentionReason *string `json:"attentionReason,omitempty"`
}

// Conversation is the persisted view of an agent conversation. A conversation
// corresponds to at most one live PTY session with the same id.
type Conversation struct {
	ConversationID     string         `json:"conversationId"`
	DirectoryID        string         `json:"directoryId"`
	Scope              Scope          `json:"scope"`
	Title              string         `json:"title"`
	AgentType          string         `json:"agentType"`
	AdapterState       map[string]any `json:"adapterState"`
	RuntimeStatus      RuntimeStatus  `json:"runtimeStatus"`
	RuntimeStatusModel *StatusModel   `json:"runtimeStatusModel,omitempty"`
	RuntimeLive        bool           `json:"runtimeLive"`
}

// ControllerType classifies who holds write access to a session.
type ControllerType string

const (
	ControllerHuman      ControllerType = "human"
	ControllerAgent      ControllerType = "agent"
	ControllerAutomation ControllerType = "automation"
)

// Controller owns exclusive write access to a session.
type Controller struct {
	ControllerID    string         `json:"controllerId"`
	ControllerType  ControllerType `json:"controllerType"`
	ControllerLabel *string        `json:"controllerLabel,omitempty"`
	ClaimedAt       string         `json:"claimedAt"`
}

// LastExit records how a session's child process ended.
type LastExit struct {
	Code   *int    `json:"code,omitempty"`
	Signal *string `json:"signal,omitempty"`
}

// SessionTelemetry carries supervisor counters for a live session.
type SessionTelemetry struct {
	BytesWritten  uint64 `json:"bytesWritten"`
	OutputChunks  uint64 `json:"outputChunks"`
	DroppedWrites uint64 `json:"droppedWrites"`
}

// Session is the live runtime view of a conversation's PTY session.
type Session struct {
	SessionID       string            `json:"sessionId"`
	Scope           Scope             `json:"scope"`
	WorktreeID      *string           `json:"worktreeId,omitempty"`
	Status          RuntimeStatus     `json:"status"`
	StatusModel     StatusModel       `json:"statusModel"`
	LatestCursor    uint64            `json:"latestCursor"`
	ProcessID       *int              `json:"processId,omitempty"`
	AttachedClients int               `json:"attachedClients"`
	EventSubs       int               `json:"eventSubscribers"`
	StartedAt       string            `json:"startedAt"`
	LastEventAt     *string           `json:"lastEventAt,omitempty"`
	LastExit        *LastExit         `json:"lastExit,omitempty"`
	ExitedAt        *string           `json:"exitedAt,omitempty"`
	Live            bool              `json:"live"`
	LaunchCommand   []string          `json:"launchCommand"`
	Controller      *Controller       `json:"controller,omitempty"`
	Telemetry       *SessionTelemetry `json:"telemetry,omitempty"`
}
