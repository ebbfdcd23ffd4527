package syncstore

import (
	"github.com/jmoyers/harness-sub014/internal/record"
)

// SyncedState is the replica of the control plane's live state. Sub-maps are
// immutable tables; Reduce only re-allocates the tables an event touches, so
// an untouched table keeps its identity across reductions.
type SyncedState struct {
	Directories   *Table[record.Directory]
	Conversations *Table[record.Conversation]
	Repositories  *Table[record.Repository]
	Tasks         *Table[record.Task]
}

// NewState returns an empty synced state.
func NewState() SyncedState {
	return SyncedState{
		Directories:   NewTable[record.Directory](),
		Conversations: NewTable[record.Conversation](),
		Repositories:  NewTable[record.Repository](),
		Tasks:         NewTable[record.Task](),
	}
}

// ReduceResult reports the next state and the ids an event touched.
type ReduceResult struct {
	State   SyncedState
	Changed bool

	UpsertedDirectoryIDs    []string
	UpsertedConversationIDs []string
	RemovedConversationIDs  []string
	UpsertedRepositoryIDs   []string
	UpsertedTaskIDs         []string
	RemovedTaskIDs          []string
}

func unchanged(state SyncedState) ReduceResult {
	return ReduceResult{State: state}
}

// Reduce applies one observed event to a synced state. It is a pure
// function: malformed payloads yield Changed=false with the input state
// returned as-is (same sub-map identities).
func Reduce(state SyncedState, ev Event) ReduceResult {
	switch ev.Kind {
	case EventDirectoryUpserted:
		dir := record.ParseDirectory(ev.Body["directory"])
		if dir == nil {
			return unchanged(state)
		}
		next := state
		next.Directories = state.Directories.with(dir.DirectoryID, *dir)
		return ReduceResult{State: next, Changed: true, UpsertedDirectoryIDs: []string{dir.DirectoryID}}

	case EventDirectoryArchived:
		id, ok := ev.Body["directoryId"].(string)
		if !ok || id == "" {
			return unchanged(state)
		}
		return reduceDirectoryArchived(state, ev, id)

	case EventConversationCreated, EventConversationUpdated:
		conv := record.ParseConversation(ev.Body["conversation"])
		if conv == nil {
			return unchanged(state)
		}
		next := state
		next.Conversations = state.Conversations.with(conv.ConversationID, *conv)
		return ReduceResult{State: next, Changed: true, UpsertedConversationIDs: []string{conv.ConversationID}}

	case EventConversationArchived, EventConversationDeleted:
		id, ok := ev.Body["conversationId"].(string)
		if !ok || id == "" {
			return unchanged(state)
		}
		if _, exists := state.Conversations.Get(id); !exists {
			return unchanged(state)
		}
		next := state
		next.Conversations = state.Conversations.without(id)
		return ReduceResult{State: next, Changed: true, RemovedConversationIDs: []string{id}}

	case EventRepositoryUpserted, EventRepositoryUpdated:
		repo := record.ParseRepository(ev.Body["repository"])
		if repo == nil {
			return unchanged(state)
		}
		next := state
		next.Repositories = state.Repositories.with(repo.RepositoryID, *repo)
		return ReduceResult{State: next, Changed: true, UpsertedRepositoryIDs: []string{repo.RepositoryID}}

	case EventRepositoryArchived:
		id, ok := ev.Body["repositoryId"].(string)
		if !ok || id == "" {
			return unchanged(state)
		}
		repo, exists := state.Repositories.Get(id)
		if !exists || repo.ArchivedAt != nil {
			return unchanged(state)
		}
		archivedAt := ev.TS
		if at, ok := ev.Body["archivedAt"].(string); ok && at != "" {
			archivedAt = at
		}
		repo.ArchivedAt = &archivedAt
		next := state
		next.Repositories = state.Repositories.with(id, repo)
		return ReduceResult{State: next, Changed: true, UpsertedRepositoryIDs: []string{id}}

	case EventTaskCreated, EventTaskUpdated:
		task := record.ParseTask(ev.Body["task"])
		if task == nil {
			return unchanged(state)
		}
		next := state
		next.Tasks = state.Tasks.with(task.TaskID, *task)
		return ReduceResult{State: next, Changed: true, UpsertedTaskIDs: []string{task.TaskID}}

	case EventTaskDeleted:
		id, ok := ev.Body["taskId"].(string)
		if !ok || id == "" {
			return unchanged(state)
		}
		if _, exists := state.Tasks.Get(id); !exists {
			return unchanged(state)
		}
		next := state
		next.Tasks = state.Tasks.without(id)
		return ReduceResult{State: next, Changed: true, RemovedTaskIDs: []string{id}}

	case EventTaskReordered:
		return reduceTaskReordered(state, ev)

	case EventSessionStatus:
		return reduceSessionStatus(state, ev)

	default:
		// Unknown kinds flow through untouched so newer servers stay
		// compatible with older clients.
		return unchanged(state)
	}
}

// reduceDirectoryArchived soft-archives the directory and cascades: every
// conversation under it is removed from live state and reported in
// RemovedConversationIDs.
func reduceDirectoryArchived(state SyncedState, ev Event, id string) ReduceResult {
	res := ReduceResult{State: state}

	if dir, exists := state.Directories.Get(id); exists && dir.ArchivedAt == nil {
		archivedAt := ev.TS
		if at, ok := ev.Body["archivedAt"].(string); ok && at != "" {
			archivedAt = at
		}
		dir.ArchivedAt = &archivedAt
		res.State.Directories = state.Directories.with(id, dir)
		res.Changed = true
		res.UpsertedDirectoryIDs = []string{id}
	}

	var removed []string
	state.Conversations.Range(func(cid string, conv record.Conversation) bool {
		if conv.DirectoryID == id {
			removed = append(removed, cid)
		}
		return true
	})
	if len(removed) > 0 {
		res.State.Conversations = state.Conversations.without(removed...)
		res.Changed = true
		res.RemovedConversationIDs = removed
	}

	return res
}

// reduceTaskReordered is a bulk upsert. Individually malformed entries are
// dropped; if every embedded record fails to parse the event is a no-op.
func reduceTaskReordered(state SyncedState, ev Event) ReduceResult {
	list, ok := ev.Body["tasks"].([]any)
	if !ok {
		return unchanged(state)
	}
	var parsed []record.Task
	for _, item := range list {
		if task := record.ParseTask(item); task != nil {
			parsed = append(parsed, *task)
		}
	}
	if len(parsed) == 0 {
		return unchanged(state)
	}

	tasks := state.Tasks
	ids := make([]string, 0, len(parsed))
	for _, task := range parsed {
		tasks = tasks.with(task.TaskID, task)
		ids = append(ids, task.TaskID)
	}
	next := state
	next.Tasks = tasks
	return ReduceResult{State: next, Changed: true, UpsertedTaskIDs: ids}
}

// reduceSessionStatus updates the runtime fields of the conversation with
// the same id. A no-op when the conversation is absent.
func reduceSessionStatus(state SyncedState, ev Event) ReduceResult {
	id, ok := ev.Body["sessionId"].(string)
	if !ok || id == "" {
		return unchanged(state)
	}
	conv, exists := state.Conversations.Get(id)
	if !exists {
		return unchanged(state)
	}

	statusStr, ok := ev.Body["status"].(string)
	if !ok {
		return unchanged(state)
	}
	switch record.RuntimeStatus(statusStr) {
	case record.RuntimeRunning, record.RuntimeNeedsInput, record.RuntimeCompleted, record.RuntimeExited:
	default:
		return unchanged(state)
	}

	var statusModel *record.StatusModel
	if sv, present := ev.Body["statusModel"]; present && sv != nil {
		statusModel = record.ParseStatusModel(sv)
		if statusModel == nil {
			return unchanged(state)
		}
	}

	live := conv.RuntimeLive
	if lv, present := ev.Body["live"]; present {
		b, ok := lv.(bool)
		if !ok {
			return unchanged(state)
		}
		live = b
	}

	conv.RuntimeStatus = record.RuntimeStatus(statusStr)
	conv.RuntimeStatusModel = statusModel
	conv.RuntimeLive = live

	next := state
	next.Conversations = state.Conversations.with(id, conv)
	return ReduceResult{State: next, Changed: true, UpsertedConversationIDs: []string{id}}
}
