package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirefish/internal/capture"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, 100, c.Logging.MaxSizeMB)
	assert.Equal(t, 7, c.Logging.RetentionDays)
	assert.Equal(t, "127.0.0.1:8080", c.Server.Listen)
	assert.Equal(t, "/metrics", c.Metrics.Path)
	assert.False(t, c.Metrics.Enabled)
	require.NoError(t, c.Validate())

	cc := c.CaptureConfig()
	assert.Equal(t, capture.DefaultConfig(), cc)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"logging": {"level": "debug"},
		"capture": {"snap_len": 1500, "promiscuous": false, "read_timeout_ms": 250},
		"server": {"listen": ":9090"},
		"metrics": {"enabled": true}
	}`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, ":9090", c.Server.Listen)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "/metrics", c.Metrics.Path)

	cc := c.CaptureConfig()
	assert.Equal(t, 1500, cc.SnapLen)
	assert.False(t, cc.Promiscuous)
	assert.Equal(t, 250*time.Millisecond, cc.ReadTimeout)
	assert.Equal(t, capture.DefaultBufferSize, cc.BufferSize)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"logging":`},
		{"invalid level", `{"logging": {"level": "verbose"}}`},
		{"snap length out of range", `{"capture": {"snap_len": 1000000}}`},
		{"negative buffer", `{"capture": {"buffer_size": -1}}`},
		{"negative timeout", `{"capture": {"read_timeout_ms": -5}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenerSelection(t *testing.T) {
	c := Default()
	_, ok := c.Opener().(*capture.LiveOpener)
	assert.True(t, ok)

	c.Capture.ReplayFile = "trace.pcapng"
	replay, ok := c.Opener().(*capture.ReplayOpener)
	require.True(t, ok)
	assert.Equal(t, "trace.pcapng", replay.Path)

	c.Capture.DumpFile = "dump.pcap"
	dump, ok := c.Opener().(*capture.DumpOpener)
	require.True(t, ok)
	assert.Equal(t, "dump.pcap", dump.Path)
	assert.IsType(t, &capture.ReplayOpener{}, dump.Opener)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &LevelWriter{Out: &buf, Min: LevelWarn}

	lines := []string{
		"[engine] DEBUG: frame 12 decoded\n",
		"[engine] Capture start on eth0\n",
		"[capture] WARN: dump disabled after write failure\n",
		"[engine] ERROR: capture task on eth0 failed\n",
	}
	for _, l := range lines {
		n, err := w.Write([]byte(l))
		require.NoError(t, err)
		assert.Equal(t, len(l), n)
	}

	assert.Equal(t, lines[2]+lines[3], buf.String())
}

func TestInitializeLoggingWithFile(t *testing.T) {
	c := Default()
	c.Logging.File = filepath.Join(t.TempDir(), "logs", "wirefish.log")

	closer, err := c.InitializeLogging()
	require.NoError(t, err)
	require.NotNil(t, closer)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		closer.Close()
	})

	_, err = os.Stat(filepath.Dir(c.Logging.File))
	assert.NoError(t, err)
}
