package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/record"
)

func TestDeriveStatusNeedsInput(t *testing.T) {
	prev := record.StatusModel{Phase: record.PhaseWorking}

	got := deriveStatus([]byte("Overwrite existing file? [y/N] "), prev)
	assert.Equal(t, record.PhaseNeedsInput, got.Phase)
	require.NotNil(t, got.AttentionReason)
	assert.Contains(t, *got.AttentionReason, "Overwrite")
}

func TestDeriveStatusThinking(t *testing.T) {
	got := deriveStatus([]byte("✻ Thinking… (esc to interrupt)"), record.StatusModel{})
	assert.Equal(t, record.PhaseThinking, got.Phase)
}

func TestDeriveStatusWorkingWithHint(t *testing.T) {
	got := deriveStatus([]byte("compiling module a\nlinking binary\n"), record.StatusModel{})
	assert.Equal(t, record.PhaseWorking, got.Phase)
	require.NotNil(t, got.ActivityHint)
	assert.Equal(t, "linking binary", *got.ActivityHint)
}

func TestDeriveStatusANSIOnlyKeepsPrevious(t *testing.T) {
	prev := record.StatusModel{Phase: record.PhaseThinking}
	got := deriveStatus([]byte("\x1b[2K\x1b[G\x1b[?25l"), prev)
	assert.Equal(t, prev, got)
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "hello", stripANSI([]byte("\x1b[31mhello\x1b[0m")))
	assert.Equal(t, "title", stripANSI([]byte("\x1b]0;ignored\x07title")))
	assert.Equal(t, "ab", stripANSI([]byte("a\x1b[10;20Hb")))
}

func TestLastLineTruncates(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, lastLine(string(long)), 80)
}
