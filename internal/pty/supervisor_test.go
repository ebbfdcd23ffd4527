package pty

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/config"
	"github.com/jmoyers/harness-sub014/internal/record"
)

var ptyTestScope = record.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

// collectorSink records everything the supervisor reports.
type collectorSink struct {
	mu       sync.Mutex
	output   []byte
	statuses []record.Session
	exits    []record.LastExit
}

func (c *collectorSink) SessionOutput(_ string, _ uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = append(c.output, data...)
}

func (c *collectorSink) SessionStatus(view record.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, view)
}

func (c *collectorSink) SessionExit(_ string, exit record.LastExit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exits = append(c.exits, exit)
}

func (c *collectorSink) outputText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.output)
}

func (c *collectorSink) exitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exits)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *collectorSink) {
	t.Helper()
	sink := &collectorSink{}
	sup := NewSupervisor(config.Defaults().PTY, sink)
	t.Cleanup(sup.CloseAll)
	return sup, sink
}

func startSleeper(t *testing.T, sup *Supervisor, id string) *Session {
	t.Helper()
	sess, err := sup.Start(StartOptions{
		SessionID: id,
		Scope:     ptyTestScope,
		Args:      []string{"/bin/sh", "-c", "sleep 30"},
		Cols:      80,
		Rows:      24,
	})
	require.NoError(t, err)
	return sess
}

func TestStartRejectsLiveDuplicate(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	startSleeper(t, sup, "s1")

	_, err := sup.Start(StartOptions{
		SessionID: "s1",
		Scope:     ptyTestScope,
		Args:      []string{"/bin/sh", "-c", "sleep 30"},
		Cols:      80, Rows: 24,
	})
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestStartFailureLeavesNoSession(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	_, err := sup.Start(StartOptions{
		SessionID: "s1",
		Scope:     ptyTestScope,
		Args:      []string{"/nonexistent/binary-xyz"},
		Cols:      80, Rows: 24,
	})
	require.ErrorIs(t, err, ErrStartFailed)

	_, err = sup.Get(ptyTestScope, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOutputFlowsToSinkAndReplay(t *testing.T) {
	sup, sink := newTestSupervisor(t)
	sess, err := sup.Start(StartOptions{
		SessionID: "s1",
		Scope:     ptyTestScope,
		Args:      []string{"/bin/sh", "-c", "printf harness-output; sleep 30"},
		Cols:      80, Rows: 24,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(sink.outputText(), "harness-output")
	}, 5*time.Second, 10*time.Millisecond)

	res := sess.Attach("client-a", 0)
	assert.Contains(t, string(res.Replay), "harness-output")
	assert.Equal(t, uint64(0), res.Start)
	assert.Equal(t, res.Start+uint64(len(res.Replay)), res.Latest)

	view := sess.View()
	assert.Equal(t, 1, view.AttachedClients)
	assert.True(t, view.Live)
	require.NotNil(t, view.Telemetry)
	assert.Greater(t, view.Telemetry.OutputChunks, uint64(0))
}

func TestClaimConflictAndTakeover(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sess := startSleeper(t, sup, "s1")

	a := record.Controller{ControllerID: "A", ControllerType: record.ControllerHuman, ClaimedAt: "2026-08-24T00:00:00Z"}
	b := record.Controller{ControllerID: "B", ControllerType: record.ControllerAgent, ClaimedAt: "2026-08-24T00:00:01Z"}

	require.NoError(t, sess.Claim(a, false))
	assert.ErrorIs(t, sess.Claim(b, false), ErrControllerHeld)
	require.NoError(t, sess.Claim(b, true))

	view := sess.View()
	require.NotNil(t, view.Controller)
	assert.Equal(t, "B", view.Controller.ControllerID)
}

func TestRespondRequiresController(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sess := startSleeper(t, sup, "s1")

	_, _, err := sess.Respond("A", "hello\n")
	assert.ErrorIs(t, err, ErrNotController)

	a := record.Controller{ControllerID: "A", ControllerType: record.ControllerHuman, ClaimedAt: "2026-08-24T00:00:00Z"}
	require.NoError(t, sess.Claim(a, false))

	_, _, err = sess.Respond("B", "hello\n")
	assert.ErrorIs(t, err, ErrNotController)

	responded, sent, err := sess.Respond("A", "hello\n")
	require.NoError(t, err)
	assert.True(t, responded)
	assert.Equal(t, 6, sent)
}

func TestRespondBackpressureDropsWithoutError(t *testing.T) {
	sink := &collectorSink{}
	cfg := config.Defaults().PTY
	cfg.RespondQueueBytes = 4
	sup := NewSupervisor(cfg, sink)
	t.Cleanup(sup.CloseAll)
	sess := startSleeper(t, sup, "s1")

	a := record.Controller{ControllerID: "A", ControllerType: record.ControllerHuman, ClaimedAt: "2026-08-24T00:00:00Z"}
	require.NoError(t, sess.Claim(a, false))

	responded, sent, err := sess.Respond("A", "this text exceeds the queue budget")
	require.NoError(t, err)
	assert.False(t, responded)
	assert.Equal(t, 0, sent)

	view := sess.View()
	require.NotNil(t, view.Telemetry)
	assert.Equal(t, uint64(1), view.Telemetry.DroppedWrites)
}

func TestCloseRecordsSignalExit(t *testing.T) {
	sup, sink := newTestSupervisor(t)
	sess := startSleeper(t, sup, "s1")

	exit := sess.Close()
	require.NotNil(t, exit)
	assert.NotNil(t, exit.Signal)

	view := sess.View()
	assert.False(t, view.Live)
	assert.Equal(t, record.RuntimeExited, view.Status)
	assert.Equal(t, record.PhaseExited, view.StatusModel.Phase)
	require.Eventually(t, func() bool { return sink.exitCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestNaturalExitRecordsCode(t *testing.T) {
	sup, sink := newTestSupervisor(t)
	sess, err := sup.Start(StartOptions{
		SessionID: "s1",
		Scope:     ptyTestScope,
		Args:      []string{"/bin/sh", "-c", "exit 3"},
		Cols:      80, Rows: 24,
	})
	require.NoError(t, err)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not exit")
	}

	require.Eventually(t, func() bool { return sink.exitCount() == 1 }, time.Second, 10*time.Millisecond)
	view := sess.View()
	require.NotNil(t, view.LastExit)
	require.NotNil(t, view.LastExit.Code)
	assert.Equal(t, 3, *view.LastExit.Code)
}

func TestSupervisorScopeIsolation(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	startSleeper(t, sup, "s1")

	otherScope := record.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w2"}
	_, err := sup.Get(otherScope, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, sup.List(otherScope))
	assert.Len(t, sup.List(ptyTestScope), 1)
}

func TestReleaseClientClearsClaims(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	sess := startSleeper(t, sup, "s1")

	a := record.Controller{ControllerID: "A", ControllerType: record.ControllerHuman, ClaimedAt: "2026-08-24T00:00:00Z"}
	require.NoError(t, sess.Claim(a, false))
	sess.Attach("A", 0)
	sess.SubscribeEvents("A")

	sup.ReleaseClient("A")

	view := sess.View()
	assert.Nil(t, view.Controller)
	assert.Equal(t, 0, view.AttachedClients)
	assert.Equal(t, 0, view.EventSubs)
}
