// Package gateway implements the control-plane command server and its
// single-writer lifecycle: the workspace record file, the loopback frame
// server, command dispatch and observed-event broadcast.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmoyers/harness-sub014/internal/log"
)

// Record is the gateway's single-writer election file, written under
// <workspace>/.state/gateway.json while a gateway owns the workspace.
type Record struct {
	Port      int    `json:"port"`
	AuthToken string `json:"authToken"`
	PID       int    `json:"pid"`
	StartedAt string `json:"startedAt"`
}

// ErrRecordExists reports a live gateway already owning the workspace.
type ErrRecordExists struct {
	Existing Record
}

func (e *ErrRecordExists) Error() string {
	return fmt.Sprintf("gateway already running: pid=%d port=%d", e.Existing.PID, e.Existing.Port)
}

// ReadRecord loads the record file at path.
func ReadRecord(path string) (Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the workspace record path
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parsing gateway record: %w", err)
	}
	return rec, nil
}

// WriteRecordExclusive claims the record file with a create-exclusive open.
// When a record already exists its liveness decides the outcome: a live
// gateway yields ErrRecordExists carrying the existing record; a stale
// record (dead pid or unreachable port) is atomically replaced.
func WriteRecordExclusive(path string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding gateway record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: workspace record path
	if err == nil {
		if _, werr := f.Write(data); werr != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return fmt.Errorf("writing gateway record: %w", werr)
		}
		return f.Close()
	}
	if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("creating gateway record: %w", err)
	}

	existing, rerr := ReadRecord(path)
	if rerr == nil && RecordAlive(existing) {
		return &ErrRecordExists{Existing: existing}
	}

	// Stale record: the previous owner died without cleaning up. Take over
	// with an atomic rewrite so concurrent starters see either record,
	// never a partial file.
	log.Warn(log.CatGateway, "taking over stale gateway record",
		"path", path, "stalePid", existing.PID)
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("replacing stale gateway record: %w", err)
	}
	return nil
}

// RemoveRecord deletes the record file when still owned by pid. A record
// rewritten by a concurrent takeover is left alone.
func RemoveRecord(path string, pid int) {
	rec, err := ReadRecord(path)
	if err != nil || rec.PID != pid {
		return
	}
	_ = os.Remove(path)
}

// RecordAlive probes whether the record still points at a live gateway:
// the pid must accept signal 0 and the port must accept a loopback dial.
func RecordAlive(rec Record) bool {
	if !pidAlive(rec.PID) {
		return false
	}
	conn, err := net.DialTimeout("tcp", loopbackAddr(rec.Port), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func loopbackAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
