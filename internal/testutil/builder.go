package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/infrastructure/sqlite"
	"github.com/jmoyers/harness-sub014/internal/record"
)

// Builder accumulates scoped records and inserts them in dependency order:
// directories and repositories first, then conversations and tasks.
type Builder struct {
	t     *testing.T
	store *sqlite.Store
	scope record.Scope

	directories   []record.Directory
	repositories  []record.Repository
	conversations []record.Conversation
	tasks         []record.Task
}

// NewBuilder creates a builder over the given store, scoped to Scope().
func NewBuilder(t *testing.T, store *sqlite.Store) *Builder {
	t.Helper()
	return &Builder{t: t, store: store, scope: Scope()}
}

// InScope switches the scope applied to subsequently added records.
func (b *Builder) InScope(scope record.Scope) *Builder {
	b.scope = scope
	return b
}

// WithDirectory adds a directory rooted at /work/<id>.
func (b *Builder) WithDirectory(id string) *Builder {
	created := TS
	b.directories = append(b.directories, record.Directory{
		DirectoryID: id,
		Scope:       b.scope,
		Path:        "/work/" + id,
		CreatedAt:   &created,
	})
	return b
}

// WithRepository adds a repository named after its id.
func (b *Builder) WithRepository(id string) *Builder {
	created := TS
	b.repositories = append(b.repositories, record.Repository{
		RepositoryID:  id,
		Scope:         b.scope,
		Name:          id,
		RemoteURL:     "git@example.com:" + id + ".git",
		DefaultBranch: "main",
		CreatedAt:     &created,
	})
	return b
}

// ConversationOption customizes a built conversation.
type ConversationOption func(*record.Conversation)

// WithTitle sets the conversation title.
func WithTitle(title string) ConversationOption {
	return func(c *record.Conversation) { c.Title = title }
}

// WithRuntime sets the runtime status and liveness.
func WithRuntime(status record.RuntimeStatus, live bool) ConversationOption {
	return func(c *record.Conversation) {
		c.RuntimeStatus = status
		c.RuntimeLive = live
	}
}

// WithConversation adds a conversation in directory dirID. Defaults: codex
// agent, exited, not live.
func (b *Builder) WithConversation(id, dirID string, opts ...ConversationOption) *Builder {
	conv := record.Conversation{
		ConversationID: id,
		DirectoryID:    dirID,
		Scope:          b.scope,
		AgentType:      "codex",
		AdapterState:   map[string]any{},
		RuntimeStatus:  record.RuntimeExited,
	}
	for _, opt := range opts {
		opt(&conv)
	}
	b.conversations = append(b.conversations, conv)
	return b
}

// TaskOption customizes a built task.
type TaskOption func(*record.Task)

// WithStatus sets the task status.
func WithStatus(status record.TaskStatus) TaskOption {
	return func(t *record.Task) { t.Status = status }
}

// WithOrder sets the task's order index.
func WithOrder(index int) TaskOption {
	return func(t *record.Task) { t.OrderIndex = index }
}

// WithBody sets the task body.
func WithBody(body string) TaskOption {
	return func(t *record.Task) { t.Body = body }
}

// ForRepository attaches the task to a repository.
func ForRepository(repositoryID string) TaskOption {
	return func(t *record.Task) {
		t.RepositoryID = &repositoryID
		t.ScopeKind = record.TaskScopeRepository
	}
}

// WithTask adds a task titled "task <id>". Defaults: draft, global scope,
// order index in insertion order.
func (b *Builder) WithTask(id string, opts ...TaskOption) *Builder {
	task := record.Task{
		TaskID:     id,
		Scope:      b.scope,
		ScopeKind:  record.TaskScopeGlobal,
		Title:      "task " + id,
		Status:     record.TaskDraft,
		OrderIndex: len(b.tasks),
		CreatedAt:  TS,
		UpdatedAt:  TS,
	}
	for _, opt := range opts {
		opt(&task)
	}
	b.tasks = append(b.tasks, task)
	return b
}

// Build inserts everything accumulated so far.
func (b *Builder) Build() {
	b.t.Helper()
	for _, dir := range b.directories {
		require.NoError(b.t, b.store.Directories.Upsert(dir))
	}
	for _, repo := range b.repositories {
		require.NoError(b.t, b.store.Repositories.Upsert(repo))
	}
	for _, conv := range b.conversations {
		require.NoError(b.t, b.store.Conversations.Upsert(conv))
	}
	for _, task := range b.tasks {
		require.NoError(b.t, b.store.Tasks.Upsert(task))
	}
}
