package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpipe/contentpipe/internal/pipeline"
)

func TestRedisKeyLayout(t *testing.T) {
	assert.Equal(t, "run:abc-123", runKey("abc-123"))
	assert.Equal(t, "runs:index", runsIndexKey)
	assert.Equal(t, "runs:chain:", chainIndexPrefix)
	assert.Equal(t, "run:events", EventsChannel)
}

func TestRunRecordRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	record := &RunRecord{
		ID:          "run-42",
		ChainName:   "video",
		Status:      StatusCompleted,
		Input:       "a red fox",
		Source:      "api",
		ChainConfig: []byte("name: video\nsteps: []\n"),
		CreatedAt:   started.Add(-time.Minute),
		StartedAt:   &started,
		Report: &pipeline.Report{
			ChainName:      "video",
			TotalCost:      1.25,
			StepsCompleted: 3,
			TotalSteps:     3,
			OverallSuccess: true,
		},
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var got RunRecord
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "a red fox", got.Input)
	assert.Equal(t, record.ChainConfig, got.ChainConfig)
	assert.True(t, got.CreatedAt.Equal(record.CreatedAt))
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.Report)
	assert.Equal(t, 1.25, got.Report.TotalCost)
	assert.True(t, got.Report.OverallSuccess)
}

func TestRunRecordOmitsEmptyFields(t *testing.T) {
	record := &RunRecord{
		ID:        "run-1",
		ChainName: "draft",
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	for _, field := range []string{"input", "source", "chain_config", "started_at", "finished_at", "report", "error"} {
		assert.NotContains(t, string(data), `"`+field+`"`)
	}
}

func TestStatusEventJSON(t *testing.T) {
	event := StatusEvent{
		Type:      "run_status",
		RunID:     "run-9",
		Chain:     "video",
		Status:    StatusRunning,
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run_status", decoded["type"])
	assert.Equal(t, "run-9", decoded["run_id"])
	assert.Equal(t, "video", decoded["chain"])
	assert.Equal(t, "running", decoded["status"])
}

func TestStatusStrings(t *testing.T) {
	// The CLI and API compare these as raw strings.
	assert.Equal(t, RunStatus("queued"), StatusQueued)
	assert.Equal(t, RunStatus("running"), StatusRunning)
	assert.Equal(t, RunStatus("completed"), StatusCompleted)
	assert.Equal(t, RunStatus("failed"), StatusFailed)
	assert.Equal(t, RunStatus("canceled"), StatusCanceled)
}
