package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "config.jsonc"))
	cfg := loader.Load()
	assert.Equal(t, Defaults().PTY.RingBufferBytes, cfg.PTY.RingBufferBytes)
	assert.Equal(t, Defaults().Gateway.SubscriberBuffer, cfg.Gateway.SubscriberBuffer)
}

func TestLoadParsesJSONCWithComments(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{
		// ring buffer sizing
		"pty": {
			"ring_buffer_bytes": 1024, /* small for tests */
			"respond_queue_bytes": 512,
		},
		"gateway": { "port": 4510 },
	}`)

	cfg := NewLoader(path).Load()
	assert.Equal(t, 1024, cfg.PTY.RingBufferBytes)
	assert.Equal(t, 512, cfg.PTY.RespondQueueBytes)
	assert.Equal(t, 4510, cfg.Gateway.Port)
	assert.Equal(t, Defaults().NIM.TranscriptLines, cfg.NIM.TranscriptLines, "unset keys keep defaults")
}

func TestLoadFallsBackToLastKnownGood(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"gateway": {"port": 4520}}`)
	loader := NewLoader(path)

	cfg := loader.Load()
	require.Equal(t, 4520, cfg.Gateway.Port)

	writeConfig(t, dir, `{"gateway": {"port": `)
	cfg = loader.Load()
	assert.Equal(t, 4520, cfg.Gateway.Port, "broken edit keeps last good config")
}

func TestLoadBrokenFileWithoutPriorGoodUsesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{not json at all`)
	cfg := NewLoader(path).Load()
	assert.Equal(t, Defaults().Gateway.SubscriberBuffer, cfg.Gateway.SubscriberBuffer)
}

func TestEnvPortOverride(t *testing.T) {
	t.Setenv(EnvControlPlanePort, "9123")
	loader := NewLoader(filepath.Join(t.TempDir(), "config.jsonc"))
	cfg := loader.Load()
	assert.Equal(t, 9123, cfg.Gateway.Port)

	t.Setenv(EnvControlPlanePort, "not-a-port")
	cfg = loader.Load()
	assert.Equal(t, Defaults().Gateway.Port, cfg.Gateway.Port, "invalid override ignored")
}

func TestEnvDebugOverride(t *testing.T) {
	t.Setenv(EnvDebug, "1")
	cfg := NewLoader(filepath.Join(t.TempDir(), "config.jsonc")).Load()
	assert.True(t, cfg.Debug)
}

func TestStripJSONCPreservesStrings(t *testing.T) {
	in := []byte(`{"a": "http://example.com", "b": "star /* not a comment */"}`)
	assert.Equal(t, string(in), string(StripJSONC(in)))
}

func TestStripJSONCTrailingCommas(t *testing.T) {
	in := []byte("{\"a\": [1, 2, 3,], \"b\": {\"c\": 1,},}")
	assert.JSONEq(t, `{"a":[1,2,3],"b":{"c":1}}`, string(StripJSONC(in)))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"gateway": {"port": 4530}}`)
	loader := NewLoader(path)
	require.Equal(t, 4530, loader.Load().Gateway.Port)

	w, err := NewWatcher(loader, 20*time.Millisecond)
	require.NoError(t, err)
	reloads, err := w.Start()
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	writeConfig(t, dir, `{"gateway": {"port": 4531}}`)

	select {
	case cfg := <-reloads:
		assert.Equal(t, 4531, cfg.Gateway.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload delivered")
	}
}
