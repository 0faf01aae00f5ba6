package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSONLines(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "debug", true)
	require.NoError(t, err)
	defer closer.Close()

	logger.With("component", "participant").Debug("heartbeat", "student_key", "s1@uni.edu")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "proctor.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	for _, key := range []string{"timestamp", "level", "msg", "pid", "component", "student_key"} {
		assert.Contains(t, entry, key)
	}
	assert.Equal(t, "participant", entry["component"])
}

func TestNewLogger_Level(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "warn", true)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "proctor.jsonl"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Contains(t, string(raw), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
