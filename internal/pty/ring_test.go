package pty

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRingBufferCursorsAdvance(t *testing.T) {
	ring := newRingBuffer(1024)
	assert.Equal(t, uint64(0), ring.Latest())

	end := ring.Write([]byte("hello"))
	assert.Equal(t, uint64(5), end)
	assert.Equal(t, uint64(5), ring.Latest())
	assert.Equal(t, uint64(0), ring.Earliest())
}

func TestRingBufferReplayFromCursor(t *testing.T) {
	ring := newRingBuffer(1024)
	ring.Write([]byte("hello "))
	ring.Write([]byte("world"))

	data, start, wait := ring.ReadAfter(6)
	require.Nil(t, wait)
	assert.Equal(t, uint64(6), start)
	assert.Equal(t, "world", string(data))
}

func TestRingBufferEvictionReportsEarliest(t *testing.T) {
	ring := newRingBuffer(8)
	ring.Write([]byte("0123456789")) // 2 bytes evicted

	assert.Equal(t, uint64(2), ring.Earliest())
	assert.Equal(t, uint64(10), ring.Latest())

	// Request from before the evicted range; read starts at earliest.
	data, start, _ := ring.ReadAfter(0)
	assert.Equal(t, uint64(2), start)
	assert.Equal(t, "23456789", string(data))
}

func TestRingBufferWaitWakesOnWrite(t *testing.T) {
	ring := newRingBuffer(64)
	_, _, wait := ring.ReadAfter(0)
	require.NotNil(t, wait)

	select {
	case <-wait:
		t.Fatal("wait channel closed before any write")
	default:
	}

	ring.Write([]byte("x"))
	select {
	case <-wait:
	default:
		t.Fatal("wait channel not closed by write")
	}

	data, start, _ := ring.ReadAfter(0)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, "x", string(data))
}

// Replay property: for any write schedule and any attach cursor, replayed
// bytes plus subsequently streamed bytes reproduce the output stream above
// that cursor, except for history already evicted.
func TestRingBufferReplayProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(4, 256).Draw(t, "capacity")
		ring := newRingBuffer(capacity)

		var full []byte
		chunkCount := rapid.IntRange(1, 20).Draw(t, "chunks")
		for i := 0; i < chunkCount; i++ {
			chunk := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "chunk")
			full = append(full, chunk...)
			ring.Write(chunk)
		}

		since := rapid.Uint64Range(0, uint64(len(full))).Draw(t, "since")
		data, start, _ := ring.ReadAfter(since)

		// The read never starts before the requested cursor, and reports
		// evicted history by starting later.
		if start < since {
			t.Fatalf("start %d < since %d", start, since)
		}
		if start < ring.Earliest() {
			t.Fatalf("start %d below earliest %d", start, ring.Earliest())
		}

		expected := full[start:]
		if !bytes.Equal(data, expected) {
			t.Fatalf("replay mismatch at %d: got %d bytes, want %d", start, len(data), len(expected))
		}

		// Streaming after the replay continues seamlessly.
		tail := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "tail")
		ring.Write(tail)
		streamed, streamStart, _ := ring.ReadAfter(start + uint64(len(data)))
		if streamStart != start+uint64(len(data)) && streamStart != ring.Earliest() {
			t.Fatalf("stream start %d unexpected", streamStart)
		}
		full = append(full, tail...)
		if !bytes.Equal(streamed, full[streamStart:]) {
			t.Fatalf("stream mismatch at %d", streamStart)
		}
	})
}
