// Package testutil provides in-memory store helpers and scoped record
// builders for harness tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/infrastructure/sqlite"
	"github.com/jmoyers/harness-sub014/internal/record"
)

// OpenStore opens a fresh in-memory store with migrations applied and closes
// it when the test ends.
func OpenStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Scope is the scope test records share unless a builder overrides it.
func Scope() record.Scope {
	return record.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}
}

// OtherScope is a second workspace for cross-scope isolation tests.
func OtherScope() record.Scope {
	return record.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w2"}
}

// TS is the fixed timestamp test records carry.
const TS = "2026-01-01T00:00:00Z"
