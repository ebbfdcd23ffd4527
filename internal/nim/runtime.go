package nim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jmoyers/harness-sub014/internal/config"
	"github.com/jmoyers/harness-sub014/internal/log"
)

var (
	ErrNoProvider      = errors.New("no active provider")
	ErrUnknownProvider = errors.New("unknown provider")
)

const streamBuffer = 256

// RunHandle identifies a submitted turn. Queued reports that the input was
// deferred behind the active run instead of starting one.
type RunHandle struct {
	RunID  string `json:"runId"`
	Queued bool   `json:"queued"`
}

// Snapshot is the runtime state exposed to the UI and to /state.
type Snapshot struct {
	Status       Status   `json:"status"`
	UIMode       UIMode   `json:"uiMode"`
	ComposerText string   `json:"composerText"`
	QueuedInputs []string `json:"queuedInputs"`
	ActiveRunID  string   `json:"activeRunId,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Transcript   []string `json:"transcript"`
}

// Runtime is the per-session provider runtime. At most one run is active;
// further inputs queue FIFO and drain one per terminal event.
type Runtime struct {
	tools ToolBridge

	events chan Event
	ui     chan UIEvent

	mu         sync.Mutex
	status     Status
	uiMode     UIMode
	composer   string
	queued     []string
	activeRun  string
	runCancel  context.CancelFunc
	transcript *transcript
	providers  map[string]ProviderDriver
	active     string
	runsByKey  map[string]RunHandle
	dropped    uint64
}

// NewRuntime creates an idle runtime in debug mode. tools may be nil when
// no tool bridge is available; drivers then receive a nil bridge.
func NewRuntime(cfg config.NIMConfig, tools ToolBridge) *Runtime {
	return &Runtime{
		tools:      tools,
		events:     make(chan Event, streamBuffer),
		ui:         make(chan UIEvent, streamBuffer),
		status:     StatusIdle,
		uiMode:     ModeDebug,
		transcript: newTranscript(cfg.TranscriptLines),
		providers:  make(map[string]ProviderDriver),
		runsByKey:  make(map[string]RunHandle),
	}
}

// Events is the semantic event stream (fidelity: everything the driver
// emitted, plus turn.aborted).
func (r *Runtime) Events() <-chan Event { return r.events }

// UI is the mode-projected stream for renderers.
func (r *Runtime) UI() <-chan UIEvent { return r.ui }

// RegisterProvider adds a driver. The first registration becomes active.
func (r *Runtime) RegisterProvider(d ProviderDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[d.ID()] = d
	if r.active == "" {
		r.active = d.ID()
	}
}

// UseProvider switches the active driver.
func (r *Runtime) UseProvider(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	r.active = id
	return nil
}

// State returns a copy of the runtime state.
func (r *Runtime) State() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runtime) snapshotLocked() Snapshot {
	queued := make([]string, len(r.queued))
	copy(queued, r.queued)
	return Snapshot{
		Status:       r.status,
		UIMode:       r.uiMode,
		ComposerText: r.composer,
		QueuedInputs: queued,
		ActiveRunID:  r.activeRun,
		Provider:     r.active,
		Transcript:   r.transcript.snapshot(),
	}
}

// SendTurn submits input. A repeated idempotencyKey returns the prior
// handle without starting anything. While a run is active the input queues
// behind it.
func (r *Runtime) SendTurn(input, idempotencyKey string) (RunHandle, error) {
	r.mu.Lock()
	if idempotencyKey != "" {
		if prior, ok := r.runsByKey[idempotencyKey]; ok {
			r.mu.Unlock()
			return prior, nil
		}
	}
	if r.active == "" {
		r.mu.Unlock()
		return RunHandle{}, ErrNoProvider
	}
	if r.activeRun != "" {
		r.queued = append(r.queued, input)
		handle := RunHandle{Queued: true}
		if idempotencyKey != "" {
			r.runsByKey[idempotencyKey] = handle
		}
		r.mu.Unlock()
		return handle, nil
	}

	handle := r.startRunLocked(input)
	if idempotencyKey != "" {
		r.runsByKey[idempotencyKey] = handle
	}
	r.mu.Unlock()
	return handle, nil
}

// startRunLocked spawns the turn worker. Caller holds the lock.
func (r *Runtime) startRunLocked(input string) RunHandle {
	runID := uuid.NewString()
	driver := r.providers[r.active]
	ctx, cancel := context.WithCancel(context.Background())
	r.activeRun = runID
	r.runCancel = cancel
	r.setStatusLocked(StatusThinking)
	r.transcript.append("user: " + input)

	log.SafeGo("nim-turn-"+runID, func() {
		r.runTurn(ctx, driver, TurnRequest{RunID: runID, Input: input, Tools: r.tools})
	})
	return RunHandle{RunID: runID}
}

func (r *Runtime) runTurn(ctx context.Context, driver ProviderDriver, req TurnRequest) {
	stream, err := driver.RunTurn(ctx, req)
	if err != nil {
		log.ErrorErr(log.CatNIM, "turn start failed", err, "run", req.RunID)
		r.synthesizeAbort(req.RunID, err.Error())
		return
	}

	var assistantText strings.Builder
	for ev := range stream {
		ev.RunID = req.RunID
		r.applyEvent(ev, &assistantText)
		if ev.terminal() {
			return
		}
	}
	// Driver closed the stream without a terminal event; treat it as an
	// abnormal end so the runtime cannot wedge in a non-idle status.
	r.synthesizeAbort(req.RunID, "stream ended without terminal event")
}

// synthesizeAbort emits a runtime-generated turn.aborted and finishes the
// run. Used for failed starts and streams that end without a terminal.
func (r *Runtime) synthesizeAbort(runID, reason string) {
	r.mu.Lock()
	stale := r.activeRun != runID
	mode := r.uiMode
	r.mu.Unlock()
	if stale {
		return
	}
	ev := Event{Kind: EventTurnAborted, RunID: runID, Text: reason}
	r.emit(ev)
	r.project(ev, mode)
	r.finishRun(runID)
}

// applyEvent updates turn status from one semantic event, forwards it, and
// projects the UI view.
func (r *Runtime) applyEvent(ev Event, assistantText *strings.Builder) {
	r.mu.Lock()
	if r.activeRun != ev.RunID {
		// A stale worker racing an abort; drop its tail.
		r.mu.Unlock()
		return
	}
	switch ev.Kind {
	case EventThinkingStarted:
		r.setStatusLocked(StatusThinking)
	case EventToolCallStarted:
		r.setStatusLocked(StatusToolCalling)
	case EventOutputDelta:
		r.setStatusLocked(StatusResponding)
		assistantText.WriteString(ev.Text)
	case EventOutputCompleted:
		text := ev.Text
		if text == "" {
			text = assistantText.String()
		}
		r.transcript.append("assistant: " + text)
	}
	mode := r.uiMode
	r.mu.Unlock()

	r.emit(ev)
	r.project(ev, mode)

	if ev.terminal() {
		r.finishRun(ev.RunID)
	}
}

// finishRun clears the active run and drains one queued input. The caller
// has already forwarded the terminal event.
func (r *Runtime) finishRun(runID string) {
	r.mu.Lock()
	if r.activeRun != runID {
		r.mu.Unlock()
		return
	}
	r.activeRun = ""
	if r.runCancel != nil {
		r.runCancel()
		r.runCancel = nil
	}
	r.setStatusLocked(StatusIdle)

	var next string
	hasNext := len(r.queued) > 0
	if hasNext {
		next = r.queued[0]
		r.queued = r.queued[1:]
	}
	r.mu.Unlock()

	if hasNext {
		if _, err := r.SendTurn(next, ""); err != nil {
			log.ErrorErr(log.CatNIM, "draining queued input failed", err)
		}
	}
}

// SteerTurn offers mid-turn text to the active run. With no active run, or
// when the driver rejects it, the text is queued instead.
func (r *Runtime) SteerTurn(text string) SteerResult {
	r.mu.Lock()
	if r.activeRun == "" {
		r.queued = append(r.queued, text)
		r.mu.Unlock()
		return SteerResult{Accepted: false, Reason: "no active run"}
	}
	driver := r.providers[r.active]
	r.mu.Unlock()

	result := driver.Steer(text)
	if !result.Accepted {
		r.mu.Lock()
		r.queued = append(r.queued, text)
		r.mu.Unlock()
	}
	return result
}

// AbortTurn cancels the active run and emits turn.aborted. A no-op when
// idle.
func (r *Runtime) AbortTurn(reason string) bool {
	r.mu.Lock()
	runID := r.activeRun
	cancel := r.runCancel
	mode := r.uiMode
	r.mu.Unlock()
	if runID == "" {
		return false
	}
	if cancel != nil {
		cancel()
	}

	ev := Event{Kind: EventTurnAborted, RunID: runID, Text: reason}
	r.emit(ev)
	r.project(ev, mode)
	r.finishRun(runID)
	return true
}

func (r *Runtime) setStatusLocked(status Status) {
	if r.status == status {
		return
	}
	r.status = status
	r.enqueueUI(UIEvent{Kind: UIStatusChanged, Status: status})
}

// emit forwards one semantic event, dropping on a full stream rather than
// blocking the turn worker.
func (r *Runtime) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		log.Warn(log.CatNIM, "semantic stream full, dropping event", "kind", string(ev.Kind))
	}
}

// project maps a semantic event onto the UI stream. Debug mode forwards
// tool activity and provider transitions; seamless keeps only assistant
// text.
func (r *Runtime) project(ev Event, mode UIMode) {
	switch mode {
	case ModeSeamless:
		switch ev.Kind {
		case EventOutputDelta:
			r.enqueueUI(UIEvent{Kind: UITextDelta, Text: ev.Text})
		case EventOutputCompleted:
			r.enqueueUI(UIEvent{Kind: UITextMessage, Text: ev.Text})
		}
	default:
		text := ev.Text
		if ev.Tool != "" {
			text = ev.Tool
		}
		r.enqueueUI(UIEvent{Kind: string(ev.Kind), Text: text})
	}
}

func (r *Runtime) enqueueUI(ev UIEvent) {
	select {
	case r.ui <- ev:
	default:
		log.Warn(log.CatNIM, "ui stream full, dropping event", "kind", ev.Kind)
	}
}

// --- Composer input ---

// Composer byte handling: Enter submits, Tab queues, backspace deletes,
// printable bytes append. Everything else is for the overlay reducers, not
// the composer.
func (r *Runtime) HandleByte(b byte) {
	switch b {
	case 0x0d, 0x0a:
		r.SubmitComposer()
	case 0x09:
		r.QueueComposer()
	case 0x7f, 0x08:
		r.mu.Lock()
		if r.composer != "" {
			r.composer = r.composer[:len(r.composer)-1]
		}
		r.mu.Unlock()
	default:
		if b >= 0x20 && b < 0x7f {
			r.mu.Lock()
			r.composer += string(rune(b))
			r.mu.Unlock()
		}
	}
}

// SetComposer replaces the composer buffer (UI-driven edits).
func (r *Runtime) SetComposer(text string) {
	r.mu.Lock()
	r.composer = text
	r.mu.Unlock()
}

// SubmitComposer submits the buffer: slash commands run locally, anything
// else becomes a turn.
func (r *Runtime) SubmitComposer() {
	r.mu.Lock()
	text := strings.TrimSpace(r.composer)
	r.composer = ""
	r.mu.Unlock()
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		r.runSlashCommand(text)
		return
	}
	if _, err := r.SendTurn(text, ""); err != nil {
		r.enqueueUI(UIEvent{Kind: UINotice, Text: err.Error()})
	}
}

// QueueComposer pushes the buffer onto queuedInputs without starting a run.
func (r *Runtime) QueueComposer() {
	r.mu.Lock()
	text := strings.TrimSpace(r.composer)
	if text != "" {
		r.queued = append(r.queued, text)
		r.composer = ""
	}
	r.mu.Unlock()
}

// --- Slash commands ---

func (r *Runtime) runSlashCommand(text string) {
	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "/help":
		r.enqueueUI(UIEvent{Kind: UINotice,
			Text: "commands: /help /state /clear /abort /mode {debug|seamless}"})
	case "/state":
		r.enqueueUI(UIEvent{Kind: UINotice, Text: r.describeState()})
	case "/clear":
		r.mu.Lock()
		r.transcript.clear()
		r.composer = ""
		r.mu.Unlock()
		r.enqueueUI(UIEvent{Kind: UINotice, Text: "transcript cleared"})
	case "/abort":
		if !r.AbortTurn("user abort") {
			r.enqueueUI(UIEvent{Kind: UINotice, Text: "no active run"})
		}
	case "/mode":
		switch UIMode(strings.TrimSpace(arg)) {
		case ModeDebug, ModeSeamless:
			r.mu.Lock()
			r.uiMode = UIMode(strings.TrimSpace(arg))
			r.mu.Unlock()
			r.enqueueUI(UIEvent{Kind: UINotice, Text: "ui mode: " + strings.TrimSpace(arg)})
		default:
			r.enqueueUI(UIEvent{Kind: UINotice, Text: "usage: /mode {debug|seamless}"})
		}
	default:
		r.enqueueUI(UIEvent{Kind: UINotice, Text: "unknown command " + cmd})
	}
}

func (r *Runtime) describeState() string {
	snap := r.State()
	providers := make([]string, 0, len(r.providers))
	r.mu.Lock()
	for id := range r.providers {
		providers = append(providers, id)
	}
	r.mu.Unlock()
	sort.Strings(providers)

	return fmt.Sprintf("status=%s mode=%s provider=%s queued=%d run=%s providers=[%s]",
		snap.Status, snap.UIMode, snap.Provider, len(snap.QueuedInputs),
		orDash(snap.ActiveRunID), strings.Join(providers, " "))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
