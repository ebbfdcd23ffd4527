package gateway

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "gateway.json")
}

func TestWriteRecordExclusiveClaimsFreshPath(t *testing.T) {
	path := recordPath(t)
	rec := Record{Port: 4242, AuthToken: "tok", PID: os.Getpid(), StartedAt: "2026-08-24T00:00:00Z"}

	require.NoError(t, WriteRecordExclusive(path, rec))

	got, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestWriteRecordExclusiveTakesOverStaleRecord(t *testing.T) {
	path := recordPath(t)
	// A pid that cannot exist keeps the stale record provably dead.
	stale := Record{Port: 1, AuthToken: "old", PID: 1 << 30, StartedAt: "2026-08-24T00:00:00Z"}
	require.NoError(t, WriteRecordExclusive(path, stale))

	fresh := Record{Port: 4243, AuthToken: "new", PID: os.Getpid(), StartedAt: "2026-08-24T01:00:00Z"}
	require.NoError(t, WriteRecordExclusive(path, fresh))

	got, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
}

func TestWriteRecordExclusiveRejectsLiveRecord(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	path := recordPath(t)
	live := Record{
		Port:      ln.Addr().(*net.TCPAddr).Port,
		AuthToken: "tok",
		PID:       os.Getpid(),
		StartedAt: "2026-08-24T00:00:00Z",
	}
	require.NoError(t, WriteRecordExclusive(path, live))

	err = WriteRecordExclusive(path, Record{Port: 9999, AuthToken: "other", PID: os.Getpid()})
	var exists *ErrRecordExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, live, exists.Existing)
}

func TestRemoveRecordOnlyWhenOwned(t *testing.T) {
	path := recordPath(t)
	rec := Record{Port: 1, AuthToken: "tok", PID: 123, StartedAt: "2026-08-24T00:00:00Z"}
	require.NoError(t, WriteRecordExclusive(path, rec))

	// Wrong pid: a concurrent takeover rewrote the record, leave it alone.
	RemoveRecord(path, 456)
	_, err := os.Stat(path)
	require.NoError(t, err)

	RemoveRecord(path, 123)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRecordAliveRequiresPidAndPort(t *testing.T) {
	assert.False(t, RecordAlive(Record{PID: 1 << 30, Port: 1}))
	// Live pid but nothing listening on the port.
	assert.False(t, RecordAlive(Record{PID: os.Getpid(), Port: 1}))
}
