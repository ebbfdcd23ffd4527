package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoyers/harness-sub014/internal/record"
)

// EventLogRepo is the append-only observed-event log. The cursor is global
// across all scopes and strictly increasing; persisting it here is what
// keeps cursors monotonic across gateway restarts.
type EventLogRepo struct {
	store *Store
}

// LoggedEvent is one appended event as read back from the log.
type LoggedEvent struct {
	Scope     record.Scope
	Cursor    uint64
	Kind      string
	Payload   []byte
	CreatedAt string
}

// Append writes one event. The caller allocates the cursor.
func (r *EventLogRepo) Append(scope record.Scope, cursor uint64, kind string, payload []byte, createdAt string) error {
	return r.store.withWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO event_log (tenant_id, user_id, workspace_id, cursor, kind, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			scope.TenantID, scope.UserID, scope.WorkspaceID,
			cursor, kind, string(payload), createdAt,
		)
		if err != nil {
			return fmt.Errorf("appending event: %w", err)
		}
		return nil
	})
}

// MaxCursor returns the highest cursor ever written, across all scopes.
// Zero when the log is empty.
func (r *EventLogRepo) MaxCursor() (uint64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var cursor sql.NullInt64
	if err := r.store.db.QueryRow(`SELECT MAX(cursor) FROM event_log`).Scan(&cursor); err != nil {
		return 0, fmt.Errorf("reading max cursor: %w", err)
	}
	if !cursor.Valid {
		return 0, nil
	}
	return uint64(cursor.Int64), nil
}

// ListAfter returns up to limit events in scope with cursor > after, in
// cursor order. limit <= 0 means no limit.
func (r *EventLogRepo) ListAfter(scope record.Scope, after uint64, limit int) ([]LoggedEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	query := `SELECT cursor, kind, payload, created_at FROM event_log
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND cursor > ?
		 ORDER BY cursor`
	args := []any{scope.TenantID, scope.UserID, scope.WorkspaceID, after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []LoggedEvent
	for rows.Next() {
		ev := LoggedEvent{Scope: scope}
		var payload string
		if err := rows.Scan(&ev.Cursor, &ev.Kind, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
