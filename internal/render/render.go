// Package render is the transport-agnostic render orchestrator: a dirty-flag
// tick pipeline over an identity-stable store snapshot. Concrete renderers
// (TUI, web) plug in pane renderers and a row writer; the orchestrator owns
// scheduling, snapshot capture, overlay application, and the row diff.
package render

import (
	"github.com/jmoyers/harness-sub014/internal/syncstore"
)

// Layout is the geometry a tick renders into.
type Layout struct {
	Cols      int
	Rows      int
	LeftWidth int
}

// ProcessUsage is the footer's resource readout.
type ProcessUsage struct {
	CPUPercent   float64
	RSSBytes     uint64
	SessionCount int
}

// Selection is the current list selection, fed to prepareRenderState.
type Selection struct {
	ConversationID string
	TaskID         string
	Index          int
}

// Snapshot is the single per-tick capture of everything a pane may read.
// Panes must not reach back into the store; the tables inside State keep
// their identity while untouched, so pane-level memoization stays valid.
type Snapshot struct {
	State                syncstore.SyncedState
	TaskComposers        map[string]string
	ProcessUsage         ProcessUsage
	ActiveConversationID string
}

// PaneContext is the input to one pane render.
type PaneContext struct {
	Layout            Layout
	HomePaneActive    bool
	ProjectPaneActive bool
	ActiveDirectoryID string
	Snapshot          Snapshot
}

// Pane renders one column of the screen to rows. Rows beyond Layout.Rows are
// dropped; missing rows are blank.
type Pane interface {
	Render(ctx PaneContext) []string
}

// PaneFunc adapts a function to Pane.
type PaneFunc func(ctx PaneContext) []string

func (f PaneFunc) Render(ctx PaneContext) []string { return f(ctx) }

// Overlay is one modal box composited over the frame. At most one overlay is
// applied per tick.
type Overlay struct {
	Row  int
	Col  int
	Rows []string
}

// RenderState is prepareRenderState's output: the geometry and UI-only state
// for one tick. A nil RenderState means "nothing to draw yet" and clears the
// dirty flag without flushing.
type RenderState struct {
	Layout            Layout
	HomePaneActive    bool
	ProjectPaneActive bool
	ActiveDirectoryID string
	Overlay           *Overlay
}

// PrepareFunc computes the tick's RenderState from the current selection.
type PrepareFunc func(sel Selection, selectionDrag bool) *RenderState

// RowWriter receives the changed rows of a flush. Row indices are
// zero-based; text is the full new content of that row.
type RowWriter interface {
	WriteRow(row int, text string)
}

// RowWriterFunc adapts a function to RowWriter.
type RowWriterFunc func(row int, text string)

func (f RowWriterFunc) WriteRow(row int, text string) { f(row, text) }
