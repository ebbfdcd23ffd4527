package render

import (
	"context"
	"sync"

	"github.com/jmoyers/harness-sub014/internal/log"
	"github.com/jmoyers/harness-sub014/internal/syncstore"
	"github.com/jmoyers/harness-sub014/internal/tracing"
)

// Options wires an Orchestrator to its transport.
type Options struct {
	Store   *syncstore.Store
	Tracer  *tracing.RenderTracer
	Left    Pane
	Right   Pane
	Writer  RowWriter
	Prepare PrepareFunc
}

// Orchestrator runs the single-threaded cooperative render pipeline. Every
// store notification sets the dirty flag; Tick re-renders only when dirty,
// capturing one snapshot per tick. Panes never read the store directly.
//
// Tick, the setters, and Shutdown may be called from any goroutine; Tick
// itself is serialized by tickMu so at most one flush runs at a time.
type Orchestrator struct {
	store   *syncstore.Store
	tracer  *tracing.RenderTracer
	left    Pane
	right   Pane
	writer  RowWriter
	prepare PrepareFunc

	mu            sync.Mutex
	dirty         bool
	shuttingDown  bool
	selection     Selection
	selectionDrag bool
	taskComposers map[string]string
	usage         ProcessUsage
	activeConvID  string

	tickMu sync.Mutex
	prior  []string
	ticks  uint64
}

// NewOrchestrator builds an orchestrator. The first Tick after construction
// renders (the pipeline starts dirty).
func NewOrchestrator(opts Options) *Orchestrator {
	return &Orchestrator{
		store:         opts.Store,
		tracer:        opts.Tracer,
		left:          opts.Left,
		right:         opts.Right,
		writer:        opts.Writer,
		prepare:       opts.Prepare,
		dirty:         true,
		taskComposers: make(map[string]string),
	}
}

// Attach subscribes to the store so every state change marks the pipeline
// dirty. The returned function unsubscribes.
func (o *Orchestrator) Attach() func() {
	return o.store.Subscribe(func(syncstore.SyncedState) {
		o.MarkDirty()
	})
}

// MarkDirty forces the next Tick to re-render.
func (o *Orchestrator) MarkDirty() {
	o.mu.Lock()
	o.dirty = true
	o.mu.Unlock()
}

// Shutdown stops the pipeline; subsequent Ticks are no-ops.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.shuttingDown = true
	o.mu.Unlock()
}

// SetSelection replaces the current selection.
func (o *Orchestrator) SetSelection(sel Selection) {
	o.mu.Lock()
	o.selection = sel
	o.dirty = true
	o.mu.Unlock()
}

// SetSelectionDrag flags an in-progress pointer drag over the selection.
func (o *Orchestrator) SetSelectionDrag(drag bool) {
	o.mu.Lock()
	o.selectionDrag = drag
	o.dirty = true
	o.mu.Unlock()
}

// SetActiveConversation records which conversation the right pane follows.
func (o *Orchestrator) SetActiveConversation(id string) {
	o.mu.Lock()
	o.activeConvID = id
	o.dirty = true
	o.mu.Unlock()
}

// SetProcessUsage updates the footer resource readout.
func (o *Orchestrator) SetProcessUsage(usage ProcessUsage) {
	o.mu.Lock()
	o.usage = usage
	o.dirty = true
	o.mu.Unlock()
}

// SetTaskComposer stores in-progress composer text for a task row. Empty
// text clears the entry.
func (o *Orchestrator) SetTaskComposer(taskID, text string) {
	o.mu.Lock()
	if text == "" {
		delete(o.taskComposers, taskID)
	} else {
		o.taskComposers[taskID] = text
	}
	o.dirty = true
	o.mu.Unlock()
}

// Ticks reports how many ticks flushed rows. Diagnostic only.
func (o *Orchestrator) Ticks() uint64 {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	return o.ticks
}

// Tick runs one pipeline pass: skip when clean or shutting down, prepare the
// render state, capture a snapshot, render both panes, flush. Returns true
// when rows were flushed.
func (o *Orchestrator) Tick(ctx context.Context) bool {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	o.mu.Lock()
	if o.shuttingDown || !o.dirty {
		o.mu.Unlock()
		return false
	}
	sel := o.selection
	drag := o.selectionDrag
	o.mu.Unlock()

	_, span := o.tracer.TickSpan(ctx)
	defer span.End()

	rs := o.prepare(sel, drag)
	if rs == nil {
		o.mu.Lock()
		o.dirty = false
		o.mu.Unlock()
		return false
	}

	snap := o.captureSnapshot()
	paneCtx := PaneContext{
		Layout:            rs.Layout,
		HomePaneActive:    rs.HomePaneActive,
		ProjectPaneActive: rs.ProjectPaneActive,
		ActiveDirectoryID: rs.ActiveDirectoryID,
		Snapshot:          snap,
	}
	leftRows := o.left.Render(paneCtx)
	rightRows := o.right.Render(paneCtx)

	o.flushRender(rs, leftRows, rightRows)

	o.mu.Lock()
	o.dirty = false
	o.mu.Unlock()
	o.ticks++
	return true
}

// captureSnapshot is the tick's one store read. The tables inside keep their
// identity while untouched by events, so panes can memoize on them.
func (o *Orchestrator) captureSnapshot() Snapshot {
	state := o.store.GetState()

	o.mu.Lock()
	composers := make(map[string]string, len(o.taskComposers))
	for k, v := range o.taskComposers {
		composers[k] = v
	}
	snap := Snapshot{
		State:                state,
		TaskComposers:        composers,
		ProcessUsage:         o.usage,
		ActiveConversationID: o.activeConvID,
	}
	o.mu.Unlock()
	return snap
}

// flushRender composes the frame from pane rows, applies at most one
// overlay, then diffs against the prior screen and writes only changed rows.
func (o *Orchestrator) flushRender(rs *RenderState, leftRows, rightRows []string) {
	rows := composeRows(rs.Layout, leftRows, rightRows)
	if rs.Overlay != nil {
		applyOverlay(rows, rs.Overlay)
	}

	changed := 0
	for i, row := range rows {
		if i < len(o.prior) && o.prior[i] == row {
			continue
		}
		o.writer.WriteRow(i, row)
		changed++
	}
	// A shrinking frame blanks the rows it no longer covers.
	for i := len(rows); i < len(o.prior); i++ {
		if o.prior[i] != "" {
			o.writer.WriteRow(i, "")
			changed++
		}
	}
	o.prior = rows

	if changed > 0 {
		log.Debug(log.CatRender, "flushed", "rows", changed)
	}
}

// composeRows joins the left rail and right pane into full-width rows. The
// left rail occupies LeftWidth cells; every row is exactly Cols cells so
// overlays can splice at any column.
func composeRows(layout Layout, leftRows, rightRows []string) []string {
	rows := make([]string, layout.Rows)
	for i := range rows {
		left := ""
		if i < len(leftRows) {
			left = leftRows[i]
		}
		right := ""
		if i < len(rightRows) {
			right = rightRows[i]
		}
		rows[i] = pad(pad(left, layout.LeftWidth)+right, layout.Cols)
	}
	return rows
}

// applyOverlay splices the overlay's rows over the frame in place. Rows and
// columns falling outside the frame are dropped.
func applyOverlay(rows []string, ov *Overlay) {
	for i, line := range ov.Rows {
		target := ov.Row + i
		if target < 0 || target >= len(rows) {
			continue
		}
		rows[target] = splice(rows[target], ov.Col, line)
	}
}

// pad right-pads s with spaces to width cells, clipping when longer.
func pad(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	out := make([]rune, width)
	copy(out, r)
	for i := len(r); i < width; i++ {
		out[i] = ' '
	}
	return string(out)
}

// splice overwrites base starting at col with text, keeping base's width.
func splice(base string, col int, text string) string {
	if col < 0 {
		col = 0
	}
	b := []rune(base)
	if col >= len(b) {
		return base
	}
	t := []rune(text)
	for i, r := range t {
		if col+i >= len(b) {
			break
		}
		b[col+i] = r
	}
	return string(b)
}
