package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/record"
)

func TestBuilderInsertsInDependencyOrder(t *testing.T) {
	store := OpenStore(t)

	NewBuilder(t, store).
		WithDirectory("d1").
		WithRepository("r1").
		WithConversation("c1", "d1", WithTitle("Alpha"), WithRuntime(record.RuntimeRunning, true)).
		WithTask("t1", WithStatus(record.TaskReady)).
		WithTask("t2", ForRepository("r1")).
		Build()

	conv, err := store.Conversations.Get(Scope(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", conv.Title)
	assert.True(t, conv.RuntimeLive)

	tasks, err := store.Tasks.List(Scope())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, record.TaskReady, tasks[0].Status)
	require.NotNil(t, tasks[1].RepositoryID)
	assert.Equal(t, "r1", *tasks[1].RepositoryID)
	assert.Equal(t, 1, tasks[1].OrderIndex, "order index follows insertion")
}

func TestBuilderScopeIsolation(t *testing.T) {
	store := OpenStore(t)

	NewBuilder(t, store).
		WithDirectory("d1").
		InScope(OtherScope()).
		WithDirectory("d2").
		Build()

	dirs, err := store.Directories.List(Scope())
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "d1", dirs[0].DirectoryID)

	_, err = store.Directories.Get(Scope(), "d2")
	assert.Error(t, err, "cross-scope record looks absent")
}
