package syncstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/record"
)

func wireScope() map[string]any {
	return map[string]any{"tenantId": "t1", "userId": "u1", "workspaceId": "w1"}
}

func wireDirectory(id string) map[string]any {
	return map[string]any{
		"directoryId": id,
		"scope":       wireScope(),
		"path":        "/work/" + id,
	}
}

func wireConversation(id, directoryID string) map[string]any {
	return map[string]any{
		"conversationId": id,
		"directoryId":    directoryID,
		"scope":          wireScope(),
		"title":          "",
		"agentType":      "codex",
		"adapterState":   map[string]any{},
		"runtimeStatus":  "running",
		"runtimeLive":    true,
	}
}

func wireTask(id string, orderIndex int) map[string]any {
	return map[string]any{
		"taskId":     id,
		"scope":      wireScope(),
		"title":      "task " + id,
		"body":       "",
		"status":     "ready",
		"orderIndex": float64(orderIndex),
		"createdAt":  "2026-01-01T00:00:00Z",
		"updatedAt":  "2026-01-01T00:00:00Z",
	}
}

func event(kind EventKind, body map[string]any) Event {
	body["type"] = string(kind)
	body["ts"] = "2026-01-01T00:00:00Z"
	return Event{Kind: kind, TS: "2026-01-01T00:00:00Z", Body: body}
}

func applyAll(t *testing.T, state SyncedState, events ...Event) SyncedState {
	t.Helper()
	for _, ev := range events {
		res := Reduce(state, ev)
		require.True(t, res.Changed, "event %s should change state", ev.Kind)
		state = res.State
	}
	return state
}

func TestReduceDirectoryUpserted(t *testing.T) {
	res := Reduce(NewState(), event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d1")}))
	require.True(t, res.Changed)
	assert.Equal(t, []string{"d1"}, res.UpsertedDirectoryIDs)
	_, ok := res.State.Directories.Get("d1")
	assert.True(t, ok)
}

func TestReduceMalformedPayloadIsNoOp(t *testing.T) {
	state := NewState()
	res := Reduce(state, event(EventDirectoryUpserted, map[string]any{"directory": "not an object"}))
	assert.False(t, res.Changed)
	// Same state, same sub-map identities.
	assert.Same(t, state.Directories, res.State.Directories)
	assert.Same(t, state.Conversations, res.State.Conversations)
}

func TestReduceDirectoryArchivedCascades(t *testing.T) {
	state := applyAll(t, NewState(),
		event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d1")}),
		event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d2")}),
		event(EventConversationCreated, map[string]any{"conversation": wireConversation("c1", "d1")}),
		event(EventConversationCreated, map[string]any{"conversation": wireConversation("c2", "d1")}),
		event(EventConversationCreated, map[string]any{"conversation": wireConversation("c3", "d2")}),
	)

	res := Reduce(state, event(EventDirectoryArchived, map[string]any{"directoryId": "d1"}))
	require.True(t, res.Changed)
	assert.ElementsMatch(t, []string{"c1", "c2"}, res.RemovedConversationIDs)

	res.State.Conversations.Range(func(_ string, conv record.Conversation) bool {
		assert.NotEqual(t, "d1", conv.DirectoryID)
		return true
	})

	dir, ok := res.State.Directories.Get("d1")
	require.True(t, ok, "archived directory keeps its record")
	assert.NotNil(t, dir.ArchivedAt)

	// Untouched conversation survives.
	_, ok = res.State.Conversations.Get("c3")
	assert.True(t, ok)
}

func TestReduceTaskReordered(t *testing.T) {
	state := applyAll(t, NewState(),
		event(EventTaskCreated, map[string]any{"task": wireTask("t1", 0)}),
		event(EventTaskCreated, map[string]any{"task": wireTask("t2", 1)}),
		event(EventTaskCreated, map[string]any{"task": wireTask("t3", 2)}),
	)

	res := Reduce(state, event(EventTaskReordered, map[string]any{
		"tasks": []any{wireTask("t3", 0), wireTask("t1", 1), wireTask("t2", 2)},
	}))
	require.True(t, res.Changed)
	assert.Equal(t, []string{"t3", "t1", "t2"}, res.UpsertedTaskIDs)

	sel := NewTaskListSelector()
	list := sel(res.State)
	require.Len(t, list, 3)
	assert.Equal(t, "t3", list[0].TaskID)
	assert.Equal(t, "t1", list[1].TaskID)
	assert.Equal(t, "t2", list[2].TaskID)
}

func TestReduceTaskReorderedAllMalformedIsNoOp(t *testing.T) {
	state := applyAll(t, NewState(),
		event(EventTaskCreated, map[string]any{"task": wireTask("t1", 0)}),
	)
	res := Reduce(state, event(EventTaskReordered, map[string]any{
		"tasks": []any{"junk", 42, map[string]any{"taskId": ""}},
	}))
	assert.False(t, res.Changed)
	assert.Same(t, state.Tasks, res.State.Tasks)
}

func TestReduceTaskReorderedDropsMalformedEntries(t *testing.T) {
	res := Reduce(NewState(), event(EventTaskReordered, map[string]any{
		"tasks": []any{wireTask("t1", 0), "junk"},
	}))
	require.True(t, res.Changed)
	assert.Equal(t, []string{"t1"}, res.UpsertedTaskIDs)
}

func TestReduceSessionStatus(t *testing.T) {
	state := applyAll(t, NewState(),
		event(EventConversationCreated, map[string]any{"conversation": wireConversation("c1", "d1")}),
	)

	res := Reduce(state, event(EventSessionStatus, map[string]any{
		"sessionId":   "c1",
		"status":      "needs-input",
		"statusModel": map[string]any{"phase": "needs-input", "attentionReason": "permission prompt"},
		"live":        true,
	}))
	require.True(t, res.Changed)
	conv, ok := res.State.Conversations.Get("c1")
	require.True(t, ok)
	assert.Equal(t, record.RuntimeNeedsInput, conv.RuntimeStatus)
	require.NotNil(t, conv.RuntimeStatusModel)
	assert.Equal(t, record.PhaseNeedsInput, conv.RuntimeStatusModel.Phase)
}

func TestReduceSessionStatusAbsentConversationIsNoOp(t *testing.T) {
	state := NewState()
	res := Reduce(state, event(EventSessionStatus, map[string]any{
		"sessionId": "missing",
		"status":    "running",
	}))
	assert.False(t, res.Changed)
	assert.Same(t, state.Conversations, res.State.Conversations)
}

func TestReducePreservesUntouchedSubMapIdentity(t *testing.T) {
	state := applyAll(t, NewState(),
		event(EventDirectoryUpserted, map[string]any{"directory": wireDirectory("d1")}),
		event(EventTaskCreated, map[string]any{"task": wireTask("t1", 0)}),
	)

	res := Reduce(state, event(EventConversationCreated, map[string]any{
		"conversation": wireConversation("c1", "d1"),
	}))
	require.True(t, res.Changed)
	assert.Same(t, state.Directories, res.State.Directories)
	assert.Same(t, state.Tasks, res.State.Tasks)
	assert.Same(t, state.Repositories, res.State.Repositories)
	assert.NotSame(t, state.Conversations, res.State.Conversations)
}

func TestReduceRepositoryArchived(t *testing.T) {
	state := applyAll(t, NewState(),
		event(EventRepositoryUpserted, map[string]any{"repository": map[string]any{
			"repositoryId":  "r1",
			"scope":         wireScope(),
			"name":          "repo",
			"remoteUrl":     "git@example.com:r.git",
			"defaultBranch": "main",
		}}),
	)

	res := Reduce(state, event(EventRepositoryArchived, map[string]any{"repositoryId": "r1"}))
	require.True(t, res.Changed)
	repo, ok := res.State.Repositories.Get("r1")
	require.True(t, ok)
	assert.NotNil(t, repo.ArchivedAt)

	// Archiving twice is a no-op.
	res2 := Reduce(res.State, event(EventRepositoryArchived, map[string]any{"repositoryId": "r1"}))
	assert.False(t, res2.Changed)
}

func TestReduceUnknownKindIsNoOp(t *testing.T) {
	state := NewState()
	res := Reduce(state, event(EventKind("future-kind"), map[string]any{}))
	assert.False(t, res.Changed)
	assert.Same(t, state.Directories, res.State.Directories)
}
