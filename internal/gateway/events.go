package gateway

import (
	"encoding/json"
	"time"

	"github.com/jmoyers/harness-sub014/internal/record"
	"github.com/jmoyers/harness-sub014/internal/syncstore"
)

// Observed-event payload builders. Every event carries its kind in "type"
// and a timestamp in "ts"; the per-kind body matches what the reducer
// parses.

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func event(kind syncstore.EventKind, body map[string]any) json.RawMessage {
	payload := map[string]any{"type": string(kind), "ts": nowISO()}
	for k, v := range body {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// toWire round-trips a record through JSON so event payloads hold plain
// maps, the same shape clients decode off the wire.
func toWire(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m any
	_ = json.Unmarshal(raw, &m)
	return m
}

func eventDirectoryUpserted(dir record.Directory) json.RawMessage {
	return event(syncstore.EventDirectoryUpserted, map[string]any{"directory": toWire(dir)})
}

func eventDirectoryArchived(directoryID, archivedAt string) json.RawMessage {
	return event(syncstore.EventDirectoryArchived, map[string]any{
		"directoryId": directoryID,
		"archivedAt":  archivedAt,
	})
}

func eventConversationCreated(conv record.Conversation) json.RawMessage {
	return event(syncstore.EventConversationCreated, map[string]any{"conversation": toWire(conv)})
}

func eventConversationUpdated(conv record.Conversation) json.RawMessage {
	return event(syncstore.EventConversationUpdated, map[string]any{"conversation": toWire(conv)})
}

func eventConversationArchived(conversationID string) json.RawMessage {
	return event(syncstore.EventConversationArchived, map[string]any{"conversationId": conversationID})
}

func eventRepositoryUpserted(repo record.Repository) json.RawMessage {
	return event(syncstore.EventRepositoryUpserted, map[string]any{"repository": toWire(repo)})
}

func eventRepositoryUpdated(repo record.Repository) json.RawMessage {
	return event(syncstore.EventRepositoryUpdated, map[string]any{"repository": toWire(repo)})
}

func eventRepositoryArchived(repositoryID, archivedAt string) json.RawMessage {
	return event(syncstore.EventRepositoryArchived, map[string]any{
		"repositoryId": repositoryID,
		"archivedAt":   archivedAt,
	})
}

func eventTaskCreated(task record.Task) json.RawMessage {
	return event(syncstore.EventTaskCreated, map[string]any{"task": toWire(task)})
}

func eventTaskUpdated(task record.Task) json.RawMessage {
	return event(syncstore.EventTaskUpdated, map[string]any{"task": toWire(task)})
}

func eventTaskDeleted(taskID string) json.RawMessage {
	return event(syncstore.EventTaskDeleted, map[string]any{"taskId": taskID})
}

func eventTaskReordered(tasks []record.Task) json.RawMessage {
	wire := make([]any, 0, len(tasks))
	for _, task := range tasks {
		wire = append(wire, toWire(task))
	}
	return event(syncstore.EventTaskReordered, map[string]any{"tasks": wire})
}

func eventSessionStatus(view record.Session) json.RawMessage {
	body := map[string]any{
		"sessionId":   view.SessionID,
		"status":      string(view.Status),
		"statusModel": toWire(view.StatusModel),
		"live":        view.Live,
	}
	if view.Controller != nil {
		body["controller"] = toWire(view.Controller)
	}
	return event(syncstore.EventSessionStatus, body)
}
