// Package config loads harness configuration from a JSONC file with
// last-known-good fallback, environment overrides, and an fsnotify-based
// reload watcher.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/jmoyers/harness-sub014/internal/log"
)

// Environment variables recognized by the harness.
const (
	EnvControlPlanePort = "HARNESS_CONTROL_PLANE_PORT"
	EnvDebug            = "HARNESS_DEBUG"
)

// PTYConfig sizes the per-session output ring buffer and respond queue.
type PTYConfig struct {
	RingBufferBytes   int `mapstructure:"ring_buffer_bytes"`
	RespondQueueBytes int `mapstructure:"respond_queue_bytes"`
}

// GatewayConfig holds control-plane server settings.
type GatewayConfig struct {
	// Port is the loopback bind port; 0 auto-assigns.
	Port int `mapstructure:"port"`
	// SubscriberBuffer is the per-subscriber event queue bound; a
	// subscriber that falls further behind is disconnected.
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	// GitStatusTTL is the read-through cache lifetime for
	// directory.git-status results.
	GitStatusTTL time.Duration `mapstructure:"git_status_ttl"`
}

// NIMConfig holds provider-runtime settings.
type NIMConfig struct {
	TranscriptLines int `mapstructure:"transcript_lines"`
}

// TracingConfig mirrors the tracing subsystem's knobs.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"` // "none", "file", "stdout", "otlp"
	FilePath     string  `mapstructure:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Config holds all configuration options for the harness.
type Config struct {
	Debug   bool          `mapstructure:"debug"`
	PTY     PTYConfig     `mapstructure:"pty"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	NIM     NIMConfig     `mapstructure:"nim"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		PTY: PTYConfig{
			RingBufferBytes:   256 * 1024,
			RespondQueueBytes: 64 * 1024,
		},
		Gateway: GatewayConfig{
			Port:             0,
			SubscriberBuffer: 256,
			GitStatusTTL:     5 * time.Second,
		},
		NIM: NIMConfig{
			TranscriptLines: 500,
		},
		Tracing: TracingConfig{
			Exporter:     "file",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Loader reads a workspace's config file and remembers the last
// successfully parsed value, so a broken edit degrades to the previous
// config instead of the defaults.
type Loader struct {
	path string

	mu       sync.Mutex
	lastGood *Config
}

// NewLoader creates a loader for the config file at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the config file path the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file. A missing file yields the defaults. A file
// that fails to parse falls back to the last known good config when one was
// loaded before, otherwise to the defaults; the parse error is logged,
// never fatal. Environment overrides are layered on last.
func (l *Loader) Load() Config {
	cfg, err := parseFile(l.path)
	switch {
	case err == nil:
		l.mu.Lock()
		good := cfg
		l.lastGood = &good
		l.mu.Unlock()
	case os.IsNotExist(err):
		cfg = Defaults()
	default:
		log.ErrorErr(log.CatConfig, "config parse failed, using fallback", err, "path", l.path)
		cfg = l.fallback()
	}
	applyEnv(&cfg)
	return cfg
}

func (l *Loader) fallback() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastGood != nil {
		return *l.lastGood
	}
	return Defaults()
}

func parseFile(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the workspace config path
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigType("json")
	bindDefaults(v)
	if err := v.ReadConfig(bytes.NewReader(StripJSONC(data))); err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("debug", d.Debug)
	v.SetDefault("pty.ring_buffer_bytes", d.PTY.RingBufferBytes)
	v.SetDefault("pty.respond_queue_bytes", d.PTY.RespondQueueBytes)
	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.subscriber_buffer", d.Gateway.SubscriberBuffer)
	v.SetDefault("gateway.git_status_ttl", d.Gateway.GitStatusTTL)
	v.SetDefault("nim.transcript_lines", d.NIM.TranscriptLines)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// applyEnv layers environment overrides on top of the file config.
func applyEnv(cfg *Config) {
	if portStr := os.Getenv(EnvControlPlanePort); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port >= 0 && port <= 65535 {
			cfg.Gateway.Port = port
		} else {
			log.Warn(log.CatConfig, "ignoring invalid port override",
				"env", EnvControlPlanePort, "value", portStr)
		}
	}
	if os.Getenv(EnvDebug) != "" {
		cfg.Debug = true
	}
}

// StripJSONC removes // and /* */ comments plus trailing commas from JSONC
// input so the result parses as plain JSON. String contents are preserved.
func StripJSONC(data []byte) []byte {
	var out bytes.Buffer
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out.WriteByte('\n')
			}
		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++ // skip the trailing '/'
		case c == ',':
			// Drop the comma when the next non-whitespace byte closes a
			// container.
			j := i + 1
			for j < len(data) && isJSONSpace(data[j]) {
				j++
			}
			if j < len(data) && (data[j] == '}' || data[j] == ']') {
				continue
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
