package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestZerologKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Info("ticket claimed", "ticket", "t1", "staff", "staff-1")

	entry := lastLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "ticket claimed", entry["message"])
	assert.Equal(t, "t1", entry["ticket"])
	assert.Equal(t, "staff-1", entry["staff"])
	assert.Contains(t, entry, "time")
}

func TestZerologLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Debug("d")
	log.Warn("w")
	log.Error("e")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	levels := make([]string, 0, 3)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		levels = append(levels, entry["level"].(string))
	}
	assert.Equal(t, []string{"debug", "warn", "error"}, levels)
}

func TestZerologNonStringValues(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Info("stats", "count", 3, "enabled", true)

	entry := lastLine(t, &buf)
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, true, entry["enabled"])
}

func TestZerologOddTrailingArgument(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Warn("lonely", "key", "value", "dangling")

	entry := lastLine(t, &buf)
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "dangling", entry["!BADKEY"])
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Debug("d", "k", "v")
	log.Info("i")
	log.Warn("w")
	log.Error("e", "odd")
}
