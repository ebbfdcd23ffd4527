package sqlite

import (
	"encoding/json"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// Row models map record types to SQL columns. Nullable record fields map
// to pointer columns; list and map fields are JSON encoded.

type directoryModel struct {
	record.Scope
	DirectoryID string
	Path        string
	CreatedAt   *string
	ArchivedAt  *string
}

func (m *directoryModel) toRecord() record.Directory {
	return record.Directory{
		DirectoryID: m.DirectoryID,
		Scope:       m.Scope,
		Path:        m.Path,
		CreatedAt:   m.CreatedAt,
		ArchivedAt:  m.ArchivedAt,
	}
}

type repositoryModel struct {
	record.Scope
	RepositoryID  string
	Name          string
	RemoteURL     string
	DefaultBranch string
	HomePriority  *int
	CreatedAt     *string
	ArchivedAt    *string
}

func (m *repositoryModel) toRecord() record.Repository {
	return record.Repository{
		RepositoryID:  m.RepositoryID,
		Scope:         m.Scope,
		Name:          m.Name,
		RemoteURL:     m.RemoteURL,
		DefaultBranch: m.DefaultBranch,
		Metadata:      record.RepositoryMetadata{HomePriority: m.HomePriority},
		CreatedAt:     m.CreatedAt,
		ArchivedAt:    m.ArchivedAt,
	}
}

type taskModel struct {
	record.Scope
	TaskID       string
	RepositoryID *string
	ProjectID    *string
	ScopeKind    string
	Title        string
	Body         string
	Status       string
	OrderIndex   int
	ClaimedBy    string // JSON array
	BranchName   *string
	BaseBranch   *string
	ClaimedAt    *string
	CompletedAt  *string
	CreatedAt    string
	UpdatedAt    string
}

func (m *taskModel) toRecord() record.Task {
	var claimedBy []string
	_ = json.Unmarshal([]byte(m.ClaimedBy), &claimedBy)
	return record.Task{
		TaskID:       m.TaskID,
		Scope:        m.Scope,
		RepositoryID: m.RepositoryID,
		ProjectID:    m.ProjectID,
		ScopeKind:    record.TaskScopeKind(m.ScopeKind),
		Title:        m.Title,
		Body:         m.Body,
		Status:       record.TaskStatus(m.Status),
		OrderIndex:   m.OrderIndex,
		ClaimedBy:    claimedBy,
		BranchName:   m.BranchName,
		BaseBranch:   m.BaseBranch,
		ClaimedAt:    m.ClaimedAt,
		CompletedAt:  m.CompletedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func claimedByJSON(task record.Task) string {
	claimedBy := task.ClaimedBy
	if claimedBy == nil {
		claimedBy = []string{}
	}
	raw, err := json.Marshal(claimedBy)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

type conversationModel struct {
	record.Scope
	ConversationID string
	DirectoryID    string
	Title          string
	AgentType      string
	AdapterState   string // JSON object
	RuntimeStatus  string
	ArchivedAt     *string
}

func (m *conversationModel) toRecord() record.Conversation {
	adapterState := map[string]any{}
	_ = json.Unmarshal([]byte(m.AdapterState), &adapterState)
	return record.Conversation{
		ConversationID: m.ConversationID,
		DirectoryID:    m.DirectoryID,
		Scope:          m.Scope,
		Title:          m.Title,
		AgentType:      m.AgentType,
		AdapterState:   adapterState,
		RuntimeStatus:  record.RuntimeStatus(m.RuntimeStatus),
		// Live sessions do not survive a gateway restart; runtime
		// liveness is re-derived by the supervisor, never loaded.
		RuntimeLive: false,
	}
}

func adapterStateJSON(conv record.Conversation) string {
	state := conv.AdapterState
	if state == nil {
		state = map[string]any{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
