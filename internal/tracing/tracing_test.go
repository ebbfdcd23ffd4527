package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmoyers/harness-sub014/internal/config"
)

func TestNewProviderDisabledIsNoop(t *testing.T) {
	p, err := NewProvider(config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "x")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewProviderFileExporterRequiresPath(t *testing.T) {
	_, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "file"})
	assert.Error(t, err)
}

func TestFileExporterWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "traces.jsonl")
	p, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "file", FilePath: path})
	require.NoError(t, err)

	_, finish := CommandSpan(context.Background(), p.Tracer(), "task.create", 11)
	finish(nil)
	require.NoError(t, p.Shutdown(context.Background()))

	f, err := os.Open(path) //nolint:gosec // test temp path
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected at least one span line")

	var rec SpanRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, "command.task.create", rec.Name)
	assert.Equal(t, "OK", rec.Status)
	assert.Equal(t, "task.create", rec.Attributes[AttrCommandType])
}

func TestRenderTracerToggle(t *testing.T) {
	p, err := NewProvider(config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	rt := NewRenderTracer(p.Tracer())

	assert.False(t, rt.Active())
	assert.True(t, rt.Start())
	assert.False(t, rt.Start(), "double start reports already running")
	assert.True(t, rt.Active())

	_, span := rt.TickSpan(context.Background())
	span.End()

	assert.True(t, rt.Stop())
	assert.False(t, rt.Stop())
}
