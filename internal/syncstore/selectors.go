package syncstore

import (
	"reflect"
	"sort"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// Selectors are factories returning a stateful closure that remembers the
// identity of the sub-map it last projected and the projection it produced.
// When the sub-map identity is unchanged the memoized output is returned,
// including its identity, so downstream equality checks stay cheap.

// ConversationSummary is the conversation-list view model.
type ConversationSummary struct {
	ID            string
	DirectoryID   string
	Title         string
	AgentType     string
	RuntimeStatus record.RuntimeStatus
	Phase         *record.Phase
	ActivityHint  *string
}

// NewConversationListSelector projects conversations to summaries sorted
// lexicographically by id.
func NewConversationListSelector() func(SyncedState) []ConversationSummary {
	var lastInput *Table[record.Conversation]
	var lastOutput []ConversationSummary

	return func(state SyncedState) []ConversationSummary {
		if state.Conversations == lastInput {
			return lastOutput
		}

		out := make([]ConversationSummary, 0, state.Conversations.Len())
		for _, id := range state.Conversations.IDs() {
			conv, _ := state.Conversations.Get(id)
			summary := ConversationSummary{
				ID:            conv.ConversationID,
				DirectoryID:   conv.DirectoryID,
				Title:         conv.Title,
				AgentType:     conv.AgentType,
				RuntimeStatus: conv.RuntimeStatus,
			}
			if conv.RuntimeStatusModel != nil {
				phase := conv.RuntimeStatusModel.Phase
				summary.Phase = &phase
				summary.ActivityHint = conv.RuntimeStatusModel.ActivityHint
			}
			out = append(out, summary)
		}

		lastInput = state.Conversations
		lastOutput = out
		return out
	}
}

// NewTaskListSelector projects tasks sorted by (orderIndex asc, taskId asc).
func NewTaskListSelector() func(SyncedState) []record.Task {
	var lastInput *Table[record.Task]
	var lastOutput []record.Task

	return func(state SyncedState) []record.Task {
		if state.Tasks == lastInput {
			return lastOutput
		}

		out := make([]record.Task, 0, state.Tasks.Len())
		state.Tasks.Range(func(_ string, task record.Task) bool {
			out = append(out, task)
			return true
		})
		sort.Slice(out, func(i, j int) bool {
			if out[i].OrderIndex != out[j].OrderIndex {
				return out[i].OrderIndex < out[j].OrderIndex
			}
			return out[i].TaskID < out[j].TaskID
		})

		lastInput = state.Tasks
		lastOutput = out
		return out
	}
}

// NewDirectoryListSelector projects directories sorted by id.
func NewDirectoryListSelector() func(SyncedState) []record.Directory {
	var lastInput *Table[record.Directory]
	var lastOutput []record.Directory

	return func(state SyncedState) []record.Directory {
		if state.Directories == lastInput {
			return lastOutput
		}

		out := make([]record.Directory, 0, state.Directories.Len())
		for _, id := range state.Directories.IDs() {
			dir, _ := state.Directories.Get(id)
			out = append(out, dir)
		}

		lastInput = state.Directories
		lastOutput = out
		return out
	}
}

// NewConversationByIDSelector selects one conversation by id.
func NewConversationByIDSelector(id string) func(SyncedState) (record.Conversation, bool) {
	var lastInput *Table[record.Conversation]
	var lastConv record.Conversation
	var lastOK bool

	return func(state SyncedState) (record.Conversation, bool) {
		if state.Conversations == lastInput {
			return lastConv, lastOK
		}
		lastInput = state.Conversations
		lastConv, lastOK = state.Conversations.Get(id)
		return lastConv, lastOK
	}
}

// identityEqual compares two selected values the way memoization produces
// them: reference kinds (slices, maps, pointers) by identity, comparable
// values by ==. Memoized selectors return the identical slice while their
// input sub-map is unchanged, so identity is the right default.
func identityEqual[T any](a, b T) bool {
	va, vb := reflect.ValueOf(&a).Elem(), reflect.ValueOf(&b).Elem()
	switch va.Kind() {
	case reflect.Slice:
		return va.Len() == vb.Len() && (va.Len() == 0 || va.Pointer() == vb.Pointer())
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan:
		return va.Pointer() == vb.Pointer()
	default:
		return reflect.DeepEqual(a, b)
	}
}

// SubscribeSelector subscribes to a store through a selector, invoking
// onChange only when the selected value changes. equals may be nil, in which
// case identity equality is used.
func SubscribeSelector[T any](
	store *Store,
	sel func(SyncedState) T,
	onChange func(T),
	equals func(a, b T) bool,
) func() {
	if equals == nil {
		equals = identityEqual[T]
	}

	last := sel(store.GetState())
	return store.Subscribe(func(state SyncedState) {
		next := sel(state)
		if equals(last, next) {
			return
		}
		last = next
		onChange(next)
	})
}
