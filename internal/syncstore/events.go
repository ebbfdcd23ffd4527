package syncstore

// EventKind identifies an observed-event kind on the workspace stream.
type EventKind string

const (
	EventDirectoryUpserted EventKind = "directory-upserted"
	EventDirectoryArchived EventKind = "directory-archived"

	EventConversationCreated  EventKind = "conversation-created"
	EventConversationUpdated  EventKind = "conversation-updated"
	EventConversationArchived EventKind = "conversation-archived"
	EventConversationDeleted  EventKind = "conversation-deleted"

	EventRepositoryUpserted EventKind = "repository-upserted"
	EventRepositoryUpdated  EventKind = "repository-updated"
	EventRepositoryArchived EventKind = "repository-archived"

	EventTaskCreated   EventKind = "task-created"
	EventTaskUpdated   EventKind = "task-updated"
	EventTaskDeleted   EventKind = "task-deleted"
	EventTaskReordered EventKind = "task-reordered"

	EventSessionStatus EventKind = "session-status"
)

// Event is one observed event as decoded from the wire. Body holds the
// kind-specific payload; the reducer parses it with the record parsers and
// treats malformed payloads as no-ops.
//
// Payload fields by kind:
//
//	directory-upserted      directory: Directory
//	directory-archived      directoryId, archivedAt?
//	conversation-created    conversation: Conversation
//	conversation-updated    conversation: Conversation
//	conversation-archived   conversationId
//	conversation-deleted    conversationId
//	repository-upserted     repository: Repository
//	repository-updated      repository: Repository
//	repository-archived     repositoryId, archivedAt?
//	task-created            task: Task
//	task-updated            task: Task
//	task-deleted            taskId
//	task-reordered          tasks: []Task
//	session-status          sessionId, status, statusModel?, live
type Event struct {
	Kind EventKind      `json:"type"`
	TS   string         `json:"ts"`
	Body map[string]any `json:"-"`
}

// EventFromWire builds an Event from a decoded JSON object. Returns false
// when the object has no string "type" field; unknown kinds are still
// returned so the reducer can ignore them uniformly.
func EventFromWire(m map[string]any) (Event, bool) {
	kind, ok := m["type"].(string)
	if !ok || kind == "" {
		return Event{}, false
	}
	ts, _ := m["ts"].(string)
	return Event{Kind: EventKind(kind), TS: ts, Body: m}, true
}
