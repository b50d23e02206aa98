package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		" DEBUG ":  zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"info":     zerolog.InfoLevel,
		"":         zerolog.InfoLevel,
		"verbose?": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInitWithWriter(t *testing.T) {
	t.Cleanup(func() { InitWithWriter("info", os.Stderr) })

	var buf bytes.Buffer
	InitWithWriter("warn", &buf)

	WithComponent("stream").Info().Msg("quiet")
	assert.Zero(t, buf.Len(), "below the configured level")

	WithComponent("stream").Warn().Int("pid", 42).Msg("Encoder died")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "stream", entry["component"])
	assert.Equal(t, "Encoder died", entry["message"])
	assert.EqualValues(t, 42, entry["pid"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "caller")
}
