package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// TaskRepo persists Task records.
type TaskRepo struct {
	store *Store
}

const taskColumns = `task_id, repository_id, project_id, scope_kind, title, body, status,
	order_index, claimed_by, branch_name, base_branch, claimed_at, completed_at, created_at, updated_at`

func scanTask(scope record.Scope, scanner interface{ Scan(...any) error }) (record.Task, error) {
	var m taskModel
	m.Scope = scope
	err := scanner.Scan(
		&m.TaskID, &m.RepositoryID, &m.ProjectID, &m.ScopeKind, &m.Title, &m.Body, &m.Status,
		&m.OrderIndex, &m.ClaimedBy, &m.BranchName, &m.BaseBranch, &m.ClaimedAt, &m.CompletedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return record.Task{}, err
	}
	return m.toRecord(), nil
}

// Upsert inserts or replaces a task.
func (r *TaskRepo) Upsert(task record.Task) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		return upsertTaskTx(tx, task)
	})
}

func upsertTaskTx(tx *sql.Tx, task record.Task) error {
	_, err := tx.Exec(
		`INSERT INTO tasks (tenant_id, user_id, workspace_id, `+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, user_id, workspace_id, task_id) DO UPDATE SET
			repository_id = excluded.repository_id,
			project_id = excluded.project_id,
			scope_kind = excluded.scope_kind,
			title = excluded.title,
			body = excluded.body,
			status = excluded.status,
			order_index = excluded.order_index,
			claimed_by = excluded.claimed_by,
			branch_name = excluded.branch_name,
			base_branch = excluded.base_branch,
			claimed_at = excluded.claimed_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		task.Scope.TenantID, task.Scope.UserID, task.Scope.WorkspaceID,
		task.TaskID, task.RepositoryID, task.ProjectID, string(task.ScopeKind),
		task.Title, task.Body, string(task.Status), task.OrderIndex, claimedByJSON(task),
		task.BranchName, task.BaseBranch, task.ClaimedAt, task.CompletedAt,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting task: %w", err)
	}
	return nil
}

// Get returns the task with id in scope.
func (r *TaskRepo) Get(scope record.Scope, id string) (record.Task, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	row := r.store.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND task_id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, id,
	)
	task, err := scanTask(scope, row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Task{}, ErrNotFound
	}
	if err != nil {
		return record.Task{}, fmt.Errorf("finding task: %w", err)
	}
	return task, nil
}

// List returns all tasks in scope ordered by (order_index, task_id).
func (r *TaskRepo) List(scope record.Scope) ([]record.Task, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows, err := r.store.db.Query(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ?
		 ORDER BY order_index, task_id`,
		scope.TenantID, scope.UserID, scope.WorkspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []record.Task
	for rows.Next() {
		task, err := scanTask(scope, rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Delete removes a task. ErrNotFound when it does not exist in scope.
func (r *TaskRepo) Delete(scope record.Scope, id string) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`DELETE FROM tasks
			 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND task_id = ?`,
			scope.TenantID, scope.UserID, scope.WorkspaceID, id,
		)
		if err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ReplaceOrder atomically rewrites the order indexes for the given tasks.
// Reorder operations replace the entire sequence in one transaction.
func (r *TaskRepo) ReplaceOrder(tasks []record.Task) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		for _, task := range tasks {
			if err := upsertTaskTx(tx, task); err != nil {
				return err
			}
		}
		return nil
	})
}
