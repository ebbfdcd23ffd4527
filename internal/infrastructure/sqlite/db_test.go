package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/record"
)

var testScope = record.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestMigrationsSetSchemaVersion(t *testing.T) {
	store := newTestStore(t)
	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestMigrationsAreIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Directories.Upsert(record.Directory{
		DirectoryID: "d1", Scope: testScope, Path: "/src/alpha",
	}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	dirs, err := store.Directories.List(testScope)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "/src/alpha", dirs[0].Path)
}

func TestDirectoryArchiveCascadesToConversations(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Directories.Upsert(record.Directory{
		DirectoryID: "d1", Scope: testScope, Path: "/src/alpha",
	}))
	require.NoError(t, store.Conversations.Upsert(record.Conversation{
		ConversationID: "c1", DirectoryID: "d1", Scope: testScope, AgentType: "codex",
	}))
	require.NoError(t, store.Conversations.Upsert(record.Conversation{
		ConversationID: "c2", DirectoryID: "d1", Scope: testScope, AgentType: "codex",
	}))
	require.NoError(t, store.Conversations.Upsert(record.Conversation{
		ConversationID: "c3", DirectoryID: "other", Scope: testScope, AgentType: "codex",
	}))

	removed, err := store.Directories.Archive(testScope, "d1", "2026-08-24T00:00:00Z")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, removed)

	convs, err := store.Conversations.List(testScope)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c3", convs[0].ConversationID)

	dirs, err := store.Directories.List(testScope)
	require.NoError(t, err)
	assert.Empty(t, dirs, "archived directory drops out of listings")
}

func TestDirectoryArchiveNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Directories.Archive(testScope, "missing", "2026-08-24T00:00:00Z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryListOrdersByHomePriority(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Repositories.Upsert(record.Repository{
		RepositoryID: "r-unranked", Scope: testScope, Name: "z", RemoteURL: "u", DefaultBranch: "main",
	}))
	require.NoError(t, store.Repositories.Upsert(record.Repository{
		RepositoryID: "r-second", Scope: testScope, Name: "b", RemoteURL: "u", DefaultBranch: "main",
		Metadata: record.RepositoryMetadata{HomePriority: intPtr(2)},
	}))
	require.NoError(t, store.Repositories.Upsert(record.Repository{
		RepositoryID: "r-first", Scope: testScope, Name: "a", RemoteURL: "u", DefaultBranch: "main",
		Metadata: record.RepositoryMetadata{HomePriority: intPtr(0)},
	}))

	repos, err := store.Repositories.List(testScope)
	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.Equal(t, "r-first", repos[0].RepositoryID)
	assert.Equal(t, "r-second", repos[1].RepositoryID)
	assert.Equal(t, "r-unranked", repos[2].RepositoryID, "unranked sorts last")
}

func TestRepositoryArchiveHidesFromList(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Repositories.Upsert(record.Repository{
		RepositoryID: "r1", Scope: testScope, Name: "a", RemoteURL: "u", DefaultBranch: "main",
	}))
	require.NoError(t, store.Repositories.Archive(testScope, "r1", "2026-08-24T00:00:00Z"))

	repos, err := store.Repositories.List(testScope)
	require.NoError(t, err)
	assert.Empty(t, repos)

	// The record itself survives.
	repo, err := store.Repositories.Get(testScope, "r1")
	require.NoError(t, err)
	require.NotNil(t, repo.ArchivedAt)
}

func testTask(id string, orderIndex int) record.Task {
	return record.Task{
		TaskID: id, Scope: testScope, ScopeKind: record.TaskScopeGlobal,
		Title: "task " + id, Status: record.TaskReady, OrderIndex: orderIndex,
		CreatedAt: "2026-08-24T00:00:00Z", UpdatedAt: "2026-08-24T00:00:00Z",
	}
}

func TestTaskRoundTripPreservesFields(t *testing.T) {
	store := newTestStore(t)
	task := testTask("t1", 0)
	task.ClaimedBy = []string{"agent-a", "agent-b"}
	task.BranchName = strPtr("feature/x")
	task.RepositoryID = strPtr("r1")
	task.ScopeKind = record.TaskScopeRepository
	require.NoError(t, store.Tasks.Upsert(task))

	got, err := store.Tasks.Get(testScope, "t1")
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestTaskReplaceOrderIsAtomic(t *testing.T) {
	store := newTestStore(t)
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, store.Tasks.Upsert(testTask(id, i)))
	}

	reordered := []record.Task{testTask("t3", 0), testTask("t1", 1), testTask("t2", 2)}
	require.NoError(t, store.Tasks.ReplaceOrder(reordered))

	tasks, err := store.Tasks.List(testScope)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "t3", tasks[0].TaskID)
	assert.Equal(t, "t1", tasks[1].TaskID)
	assert.Equal(t, "t2", tasks[2].TaskID)
}

func TestTaskDeleteNotFound(t *testing.T) {
	store := newTestStore(t)
	assert.ErrorIs(t, store.Tasks.Delete(testScope, "missing"), ErrNotFound)
}

func TestConversationAdapterStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Conversations.Upsert(record.Conversation{
		ConversationID: "c1", DirectoryID: "d1", Scope: testScope,
		Title: "Alpha", AgentType: "codex",
		AdapterState:  map[string]any{"model": "x", "turns": float64(3)},
		RuntimeStatus: record.RuntimeRunning,
	}))

	conv, err := store.Conversations.Get(testScope, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"model": "x", "turns": float64(3)}, conv.AdapterState)
	assert.Equal(t, record.RuntimeRunning, conv.RuntimeStatus)
	assert.False(t, conv.RuntimeLive, "liveness is never loaded from disk")
}

func TestScopeIsolation(t *testing.T) {
	store := newTestStore(t)
	otherScope := record.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w2"}

	require.NoError(t, store.Tasks.Upsert(testTask("t1", 0)))

	_, err := store.Tasks.Get(otherScope, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	tasks, err := store.Tasks.List(otherScope)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEventLogCursorSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.db")
	store, err := Open(path)
	require.NoError(t, err)

	for cursor := uint64(1); cursor <= 3; cursor++ {
		require.NoError(t, store.EventLog.Append(
			testScope, cursor, "task-created", []byte(`{"type":"task-created"}`), "2026-08-24T00:00:00Z"))
	}
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	maxCursor, err := store.EventLog.MaxCursor()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), maxCursor)
}

func TestEventLogListAfter(t *testing.T) {
	store := newTestStore(t)
	for cursor := uint64(1); cursor <= 5; cursor++ {
		require.NoError(t, store.EventLog.Append(
			testScope, cursor, "task-created", []byte(`{}`), "2026-08-24T00:00:00Z"))
	}

	events, err := store.EventLog.ListAfter(testScope, 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].Cursor)
	assert.Equal(t, uint64(5), events[2].Cursor)

	limited, err := store.EventLog.ListAfter(testScope, 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, uint64(1), limited[0].Cursor)
}

func TestEventLogDuplicateCursorRejected(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EventLog.Append(testScope, 1, "k", []byte(`{}`), "2026-08-24T00:00:00Z"))
	assert.Error(t, store.EventLog.Append(testScope, 1, "k", []byte(`{}`), "2026-08-24T00:00:00Z"))
}
