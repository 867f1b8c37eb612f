package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	require.NotNil(t, log)

	log.Info().Str("agent", "weather-agent").Msg("agent registered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "agent registered", line["message"])
	assert.Equal(t, "weather-agent", line["agent"])
	assert.Contains(t, line, "time")
}

func TestSubAndWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Sub("ledger").With("investor", "alice")

	log.Debug().Msg("position opened")
	out := buf.String()
	assert.Contains(t, out, `"subsystem":"ledger"`)
	assert.Contains(t, out, `"investor":"alice"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("debug msg")
	log.Info().Msg("info msg")
	assert.Empty(t, buf.String())

	log.Warn().Msg("warn msg")
	assert.Contains(t, buf.String(), "warn msg")
}

func TestSilent(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")
	log.Error().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestNewStyled(t *testing.T) {
	for _, style := range []string{"json", "compact", "pretty", ""} {
		t.Run(style, func(t *testing.T) {
			assert.NotNil(t, NewStyled(style, "silent"))
		})
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "swarm.log")
	log, closer := NewFile("json", "info", path, Rotation{MaxSizeMB: 1, MaxBackups: 1})
	log.Sub("gateway").Info().Int("port", 18790).Msg("listening")
	log.Debug().Msg("dropped")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &line))
	assert.Equal(t, "listening", line["message"])
	assert.Equal(t, "gateway", line["subsystem"])
	assert.Equal(t, 18790.0, line["port"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"LOUD", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}
