package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(nil, dir, false)
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("executor", "run started", map[string]interface{}{"chain": "video"})
	logger.RunLog(LevelError, "run-1", "video", "clip", "step failed", nil)

	f, err := os.Open(filepath.Join(dir, "contentpipe.log"))
	require.NoError(t, err)
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}

	require.Len(t, entries, 2)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "executor", entries[0].Component)
	assert.Equal(t, "video", entries[0].Details["chain"])
	assert.False(t, entries[0].Timestamp.IsZero())

	assert.Equal(t, LevelError, entries[1].Level)
	assert.Equal(t, "run-1", entries[1].RunID)
	assert.Equal(t, "clip", entries[1].Step)
}

func TestLoggerAuditGoesToSeparateFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(nil, dir, false)
	require.NoError(t, err)
	defer logger.Close()

	logger.Audit(AuditEntry{
		UserID:   "ops",
		Action:   "delete_run",
		Resource: "run",
		RunID:    "run-9",
		Result:   "success",
	})

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)

	var entry AuditEntry
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &entry))
	assert.Equal(t, "delete_run", entry.Action)
	assert.Equal(t, "run-9", entry.RunID)

	logData, err := os.ReadFile(filepath.Join(dir, "contentpipe.log"))
	require.NoError(t, err)
	assert.Empty(t, logData)
}

func TestLogFilterMatches(t *testing.T) {
	entry := LogEntry{Level: LevelWarn, Component: "queue", RunID: "run-3"}

	tests := []struct {
		name   string
		filter LogFilter
		want   bool
	}{
		{"empty matches all", LogFilter{}, true},
		{"level match", LogFilter{Level: LevelWarn}, true},
		{"level mismatch", LogFilter{Level: LevelError}, false},
		{"component match", LogFilter{Component: "queue"}, true},
		{"component mismatch", LogFilter{Component: "api"}, false},
		{"run match", LogFilter{RunID: "run-3"}, true},
		{"run mismatch", LogFilter{RunID: "run-4"}, false},
		{"combined", LogFilter{Level: LevelWarn, Component: "queue", RunID: "run-3"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.matches(&entry))
		})
	}
}

func TestQueriesRequireRedis(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(nil, dir, false)
	require.NoError(t, err)
	defer logger.Close()

	_, err = logger.GetLogs(context.Background(), LogFilter{Duration: time.Hour})
	assert.Error(t, err)
	_, err = logger.GetAuditLogs(context.Background(), AuditFilter{Duration: time.Hour})
	assert.Error(t, err)
}
