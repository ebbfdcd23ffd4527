package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// RepositoryRepo persists Repository records.
type RepositoryRepo struct {
	store *Store
}

// Upsert inserts or replaces a repository.
func (r *RepositoryRepo) Upsert(repo record.Repository) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO repositories (tenant_id, user_id, workspace_id, repository_id,
				name, remote_url, default_branch, home_priority, created_at, archived_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (tenant_id, user_id, workspace_id, repository_id) DO UPDATE SET
				name = excluded.name,
				remote_url = excluded.remote_url,
				default_branch = excluded.default_branch,
				home_priority = excluded.home_priority,
				archived_at = excluded.archived_at`,
			repo.Scope.TenantID, repo.Scope.UserID, repo.Scope.WorkspaceID,
			repo.RepositoryID, repo.Name, repo.RemoteURL, repo.DefaultBranch,
			repo.Metadata.HomePriority, repo.CreatedAt, repo.ArchivedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting repository: %w", err)
		}
		return nil
	})
}

// Get returns the repository with id in scope.
func (r *RepositoryRepo) Get(scope record.Scope, id string) (record.Repository, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var m repositoryModel
	m.Scope = scope
	err := r.store.db.QueryRow(
		`SELECT repository_id, name, remote_url, default_branch, home_priority, created_at, archived_at
		 FROM repositories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND repository_id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, id,
	).Scan(&m.RepositoryID, &m.Name, &m.RemoteURL, &m.DefaultBranch,
		&m.HomePriority, &m.CreatedAt, &m.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Repository{}, ErrNotFound
	}
	if err != nil {
		return record.Repository{}, fmt.Errorf("finding repository: %w", err)
	}
	return m.toRecord(), nil
}

// List returns repositories in scope ordered by home priority then id.
// Archived repositories retain their rows but are excluded here.
func (r *RepositoryRepo) List(scope record.Scope) ([]record.Repository, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows, err := r.store.db.Query(
		`SELECT repository_id, name, remote_url, default_branch, home_priority, created_at, archived_at
		 FROM repositories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND archived_at IS NULL
		 ORDER BY home_priority IS NULL, home_priority, repository_id`,
		scope.TenantID, scope.UserID, scope.WorkspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []record.Repository
	for rows.Next() {
		var m repositoryModel
		m.Scope = scope
		if err := rows.Scan(&m.RepositoryID, &m.Name, &m.RemoteURL, &m.DefaultBranch,
			&m.HomePriority, &m.CreatedAt, &m.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		out = append(out, m.toRecord())
	}
	return out, rows.Err()
}

// Archive marks a repository archived. ErrNotFound when it does not exist
// or is already archived.
func (r *RepositoryRepo) Archive(scope record.Scope, id, archivedAt string) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE repositories SET archived_at = ?
			 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND repository_id = ? AND archived_at IS NULL`,
			archivedAt, scope.TenantID, scope.UserID, scope.WorkspaceID, id,
		)
		if err != nil {
			return fmt.Errorf("archiving repository: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("archiving repository: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
