package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// ConversationRepo persists Conversation records. Runtime fields (status
// model, liveness, cursors) belong to the session supervisor and are not
// stored here, except the coarse runtime status kept for listing after a
// restart.
type ConversationRepo struct {
	store *Store
}

// Upsert inserts or replaces a conversation.
func (r *ConversationRepo) Upsert(conv record.Conversation) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO conversations (tenant_id, user_id, workspace_id, conversation_id,
				directory_id, title, agent_type, adapter_state, runtime_status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (tenant_id, user_id, workspace_id, conversation_id) DO UPDATE SET
				directory_id = excluded.directory_id,
				title = excluded.title,
				agent_type = excluded.agent_type,
				adapter_state = excluded.adapter_state,
				runtime_status = excluded.runtime_status`,
			conv.Scope.TenantID, conv.Scope.UserID, conv.Scope.WorkspaceID,
			conv.ConversationID, conv.DirectoryID, conv.Title, conv.AgentType,
			adapterStateJSON(conv), string(conv.RuntimeStatus),
		)
		if err != nil {
			return fmt.Errorf("upserting conversation: %w", err)
		}
		return nil
	})
}

// Get returns the conversation with id in scope, archived or not.
func (r *ConversationRepo) Get(scope record.Scope, id string) (record.Conversation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var m conversationModel
	m.Scope = scope
	err := r.store.db.QueryRow(
		`SELECT conversation_id, directory_id, title, agent_type, adapter_state, runtime_status
		 FROM conversations
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND conversation_id = ? AND archived_at IS NULL`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, id,
	).Scan(&m.ConversationID, &m.DirectoryID, &m.Title, &m.AgentType, &m.AdapterState, &m.RuntimeStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Conversation{}, ErrNotFound
	}
	if err != nil {
		return record.Conversation{}, fmt.Errorf("finding conversation: %w", err)
	}
	return m.toRecord(), nil
}

// List returns all non-archived conversations in scope ordered by id.
func (r *ConversationRepo) List(scope record.Scope) ([]record.Conversation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows, err := r.store.db.Query(
		`SELECT conversation_id, directory_id, title, agent_type, adapter_state, runtime_status
		 FROM conversations
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND archived_at IS NULL
		 ORDER BY conversation_id`,
		scope.TenantID, scope.UserID, scope.WorkspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []record.Conversation
	for rows.Next() {
		var m conversationModel
		m.Scope = scope
		if err := rows.Scan(&m.ConversationID, &m.DirectoryID, &m.Title, &m.AgentType,
			&m.AdapterState, &m.RuntimeStatus); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, m.toRecord())
	}
	return out, rows.Err()
}

// UpdateRuntimeStatus records the coarse runtime status for a conversation.
func (r *ConversationRepo) UpdateRuntimeStatus(scope record.Scope, id string, status record.RuntimeStatus) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE conversations SET runtime_status = ?
			 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND conversation_id = ?`,
			string(status), scope.TenantID, scope.UserID, scope.WorkspaceID, id,
		)
		if err != nil {
			return fmt.Errorf("updating conversation runtime status: %w", err)
		}
		return nil
	})
}

// Archive soft-archives a conversation. ErrNotFound when it does not exist
// or is already archived.
func (r *ConversationRepo) Archive(scope record.Scope, id, archivedAt string) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE conversations SET archived_at = ?
			 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND conversation_id = ? AND archived_at IS NULL`,
			archivedAt, scope.TenantID, scope.UserID, scope.WorkspaceID, id,
		)
		if err != nil {
			return fmt.Errorf("archiving conversation: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("archiving conversation: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
