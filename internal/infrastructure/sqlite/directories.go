package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// ErrNotFound is returned when a requested record does not exist in the
// caller's scope.
var ErrNotFound = errors.New("record not found")

// DirectoryRepo persists Directory records.
type DirectoryRepo struct {
	store *Store
}

// Upsert inserts or replaces a directory.
func (r *DirectoryRepo) Upsert(dir record.Directory) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		return upsertDirectoryTx(tx, dir)
	})
}

func upsertDirectoryTx(tx *sql.Tx, dir record.Directory) error {
	_, err := tx.Exec(
		`INSERT INTO directories (tenant_id, user_id, workspace_id, directory_id, path, created_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, user_id, workspace_id, directory_id) DO UPDATE SET
			path = excluded.path,
			archived_at = excluded.archived_at`,
		dir.Scope.TenantID, dir.Scope.UserID, dir.Scope.WorkspaceID,
		dir.DirectoryID, dir.Path, dir.CreatedAt, dir.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting directory: %w", err)
	}
	return nil
}

// Get returns the directory with id in scope.
func (r *DirectoryRepo) Get(scope record.Scope, id string) (record.Directory, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var m directoryModel
	m.Scope = scope
	err := r.store.db.QueryRow(
		`SELECT directory_id, path, created_at, archived_at
		 FROM directories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND directory_id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, id,
	).Scan(&m.DirectoryID, &m.Path, &m.CreatedAt, &m.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Directory{}, ErrNotFound
	}
	if err != nil {
		return record.Directory{}, fmt.Errorf("finding directory: %w", err)
	}
	return m.toRecord(), nil
}

// List returns all non-archived directories in scope, ordered by id.
func (r *DirectoryRepo) List(scope record.Scope) ([]record.Directory, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows, err := r.store.db.Query(
		`SELECT directory_id, path, created_at, archived_at
		 FROM directories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND archived_at IS NULL
		 ORDER BY directory_id`,
		scope.TenantID, scope.UserID, scope.WorkspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []record.Directory
	for rows.Next() {
		var m directoryModel
		m.Scope = scope
		if err := rows.Scan(&m.DirectoryID, &m.Path, &m.CreatedAt, &m.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scanning directory: %w", err)
		}
		out = append(out, m.toRecord())
	}
	return out, rows.Err()
}

// Archive soft-archives a directory and cascades to its conversations,
// returning the archived conversation ids. ErrNotFound when the directory
// does not exist in scope.
func (r *DirectoryRepo) Archive(scope record.Scope, id, archivedAt string) ([]string, error) {
	var conversationIDs []string
	err := r.store.withWrite(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE directories SET archived_at = ?
			 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND directory_id = ? AND archived_at IS NULL`,
			archivedAt, scope.TenantID, scope.UserID, scope.WorkspaceID, id,
		)
		if err != nil {
			return fmt.Errorf("archiving directory: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("archiving directory: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}

		rows, err := tx.Query(
			`SELECT conversation_id FROM conversations
			 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND directory_id = ? AND archived_at IS NULL`,
			scope.TenantID, scope.UserID, scope.WorkspaceID, id,
		)
		if err != nil {
			return fmt.Errorf("finding cascade conversations: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				return fmt.Errorf("scanning cascade conversation: %w", err)
			}
			conversationIDs = append(conversationIDs, cid)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.Exec(
			`UPDATE conversations SET archived_at = ?
			 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND directory_id = ? AND archived_at IS NULL`,
			archivedAt, scope.TenantID, scope.UserID, scope.WorkspaceID, id,
		); err != nil {
			return fmt.Errorf("archiving cascade conversations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conversationIDs, nil
}
